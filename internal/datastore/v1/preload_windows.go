//go:build windows

package v1

// adviseWillNeed is a no-op on Windows: madvise has no portable equivalent
// there, matching §4.2's "Advice::Sequential is requested on non-Windows".
func adviseWillNeed(data []byte, offset, length int64) error {
	return nil
}
