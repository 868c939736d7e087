//go:build !(cgo && ilbc)

package codec

// Без libilbc payload type iLBC остаётся незарегистрированным
func registerILBC(*Registry) {}
