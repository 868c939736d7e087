//go:build linux

package rtp

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applySockOptForVoice применяет Linux-специфичные настройки сокета для голоса
func applySockOptForVoice(fd int, opts SocketOptions) error {
	if opts.RecvBuffer > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, opts.RecvBuffer); err != nil {
			return fmt.Errorf("SO_RCVBUF (%d): %w", opts.RecvBuffer, err)
		}
	}

	if opts.SendBuffer > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, opts.SendBuffer); err != nil {
			return fmt.Errorf("SO_SNDBUF (%d): %w", opts.SendBuffer, err)
		}
	}

	// DSCP находится в старших 6 битах TOS поля.
	// Для dual-stack сокета IP_TOS может быть недоступен, это не критично.
	if opts.DSCP > 0 {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, opts.DSCP<<2)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, opts.DSCP<<2)
	}

	// Приоритет 6 соответствует интерактивному аудио.
	// В контейнерах может быть запрещено, ошибку игнорируем.
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, 6)

	return nil
}
