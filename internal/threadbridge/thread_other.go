//go:build !linux

package threadbridge

func currentThreadID() int {
	return 0
}
