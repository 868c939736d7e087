package rtp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// ErrTransportClosed возвращается при работе с закрытым транспортом
var ErrTransportClosed = errors.New("транспорт закрыт")

// Transport определяет интерфейс приёма и отправки сырых датаграмм.
// Реализация сокета находится вне ядра движка, канал работает только через
// этот интерфейс, что позволяет подменять его в тестах.
type Transport interface {
	// ReadDatagram блокирует до получения датаграммы или закрытия транспорта
	ReadDatagram(buf []byte) (int, *net.UDPAddr, error)

	// WriteDatagram отправляет датаграмму на указанный адрес
	WriteDatagram(data []byte, addr *net.UDPAddr) error

	// LocalPort возвращает локальный порт
	LocalPort() int

	// Close закрывает транспорт, блокированный ReadDatagram возвращает ошибку
	Close() error
}

// SocketOptions настройки сокета для голосового трафика
type SocketOptions struct {
	RecvBuffer int // SO_RCVBUF, 0 = по умолчанию системы
	SendBuffer int // SO_SNDBUF, 0 = по умолчанию системы
	DSCP       int // DSCP маркировка для QoS (46 = EF)
}

// DefaultSocketOptions возвращает настройки, оптимизированные для голоса
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{
		RecvBuffer: 65535,
		SendBuffer: 65535,
		DSCP:       46,
	}
}

// UDPTransport реализует Transport поверх *net.UDPConn
type UDPTransport struct {
	conn   *net.UDPConn
	pool   *PortPool
	port   int
	closed bool
	mutex  sync.Mutex
}

// ListenUDP открывает UDP сокет на свободном порту из пула.
// Ошибка возвращается синхронно, если ни один порт диапазона не удалось занять.
func ListenUDP(pool *PortPool, bindAddr string, opts SocketOptions) (*UDPTransport, error) {
	var conn *net.UDPConn

	port, err := pool.Allocate(func(port int) error {
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(bindAddr, strconv.Itoa(port)))
		if err != nil {
			return err
		}
		c, err := net.ListenUDP("udp", addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := setSockOptForVoice(conn, opts); err != nil {
		conn.Close()
		pool.Release(port)
		return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
	}

	return &UDPTransport{
		conn: conn,
		pool: pool,
		port: port,
	}, nil
}

// ReadDatagram читает одну датаграмму
func (t *UDPTransport) ReadDatagram(buf []byte) (int, *net.UDPAddr, error) {
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, nil, ErrTransportClosed
		}
		return 0, nil, fmt.Errorf("UDP read: %w", err)
	}
	return n, addr, nil
}

// WriteDatagram отправляет датаграмму
func (t *UDPTransport) WriteDatagram(data []byte, addr *net.UDPAddr) error {
	if addr == nil {
		return fmt.Errorf("удаленный адрес не установлен")
	}
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrTransportClosed
		}
		return fmt.Errorf("UDP write: %w", err)
	}
	return nil
}

// LocalPort возвращает локальный порт
func (t *UDPTransport) LocalPort() int {
	return t.port
}

// Close закрывает сокет и возвращает порт в пул
func (t *UDPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	err := t.conn.Close()
	t.pool.Release(t.port)
	return err
}

// setSockOptForVoice применяет настройки к файловому дескриптору сокета
func setSockOptForVoice(conn *net.UDPConn, opts SocketOptions) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		sockErr = applySockOptForVoice(int(fd), opts)
	})
	if err != nil {
		return err
	}
	return sockErr
}
