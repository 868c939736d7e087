package recorder

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMP3Command внешний кодировщик по умолчанию
const DefaultMP3Command = "lame"

// MP3Encoder перекодирует готовый WAV файл внешней программой.
// Результат только логируется, на канал он не влияет.
type MP3Encoder struct {
	Command string
	Args    []string
	Timeout time.Duration
	Logger  *logrus.Entry
}

// NewMP3Encoder создает кодировщик с командой по умолчанию
func NewMP3Encoder() *MP3Encoder {
	return &MP3Encoder{
		Command: DefaultMP3Command,
		Timeout: time.Minute,
		Logger:  logrus.WithField("component", "mp3"),
	}
}

// Target возвращает путь MP3 файла для WAV файла
func Target(wavPath string) string {
	return strings.TrimSuffix(wavPath, ".wav") + ".mp3"
}

// Encode запускает кодировщик и ждет завершения
func (e *MP3Encoder) Encode(wavPath string) error {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	logger := e.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	target := Target(wavPath)
	args := append(append([]string{}, e.Args...), wavPath, target)
	command := e.Command
	if command == "" {
		command = DefaultMP3Command
	}
	cmd := exec.CommandContext(ctx, command, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.WithFields(logrus.Fields{
			"function": "Encode",
			"wav":      wavPath,
			"output":   string(output),
		}).WithError(err).Warn("Ошибка перекодирования в MP3")
		return fmt.Errorf("%s: %w", command, err)
	}

	logger.WithFields(logrus.Fields{
		"function": "Encode",
		"mp3":      target,
	}).Info("Запись перекодирована в MP3")
	return nil
}
