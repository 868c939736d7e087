// Package codec реализует транскодирование между payload RTP и линейным PCM.
//
// Общим представлением аудио внутри движка является 16-битный линейный PCM
// 8 кГц, кадр 20 мс = 160 отсчётов. Каждый кодек создаётся отдельно для
// каждого канала и каждого направления, поэтому кодеки с историей кадров
// (G.722) не разделяют состояние между потоками.
//
// Соответствие payload type и кодека хранится в явном Registry, который
// передаётся движку при создании и может быть расширен через Register.
//
// Поддерживаемые кодеки по умолчанию:
//   - PCMU (0) - G.711 μ-law
//   - PCMA (8) - G.711 A-law
//   - G.722 (9) - 64 кбит/с, 8 кГц линейный вход/выход
//
// iLBC (97, режим 20 мс) собирается только с тегом ilbc и требует
// системную libilbc:
//
//	go build -tags ilbc ./...
//
// В обычной сборке payload type 97 не зарегистрирован, и открытие канала с ним
// возвращает ErrUnsupportedCodec. Свою реализацию можно подключить через Register.
package codec
