//go:build !linux

package rtp

// applySockOptForVoice на остальных платформах ничего не настраивает
func applySockOptForVoice(fd int, opts SocketOptions) error {
	return nil
}
