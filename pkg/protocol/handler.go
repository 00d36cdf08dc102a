package protocol

import (
	"encoding/json"

	"github.com/pion/logging"
)

type Option = func(*Handler) error

func WithNotesHandler(fn func(NotesUpdate)) Option {
	return func(handler *Handler) error {
		handler.onNotes = fn
		return nil
	}
}

func WithURLShareHandler(fn func(URLShare)) Option {
	return func(handler *Handler) error {
		handler.onURL = fn
		return nil
	}
}

func WithFileHandler(fn func(File)) Option {
	return func(handler *Handler) error {
		handler.onFile = fn
		return nil
	}
}

// Handler decodes inbound data-channel messages and dispatches them to the
// registered callbacks. Malformed or unrecognised payloads are logged and
// dropped; they are never fatal to the channel.
type Handler struct {
	assembler *Assembler
	logger    logging.LeveledLogger

	onNotes func(NotesUpdate)
	onURL   func(URLShare)
	onFile  func(File)
}

func CreateHandler(loggerFactory logging.LoggerFactory, options ...Option) (*Handler, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	handler := &Handler{
		assembler: NewAssembler(),
		logger:    loggerFactory.NewLogger("protocol"),
	}

	for _, option := range options {
		if err := option(handler); err != nil {
			return nil, err
		}
	}

	return handler, nil
}

// Assembler exposes the per-connection assembly buffer so the session can
// reset it on teardown.
func (handler *Handler) Assembler() *Assembler {
	return handler.assembler
}

// Handle processes one raw inbound message.
func (handler *Handler) Handle(raw []byte) {
	var msg envelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		handler.logger.Warnf("dropping malformed message: %v", err)
		return
	}

	switch msg.Type {
	case KindNotes:
		if handler.onNotes != nil {
			handler.onNotes(NotesUpdate{Content: msg.Content})
		}

	case KindURL, KindVideoURL:
		var value urlValue
		if err := json.Unmarshal(msg.Value, &value); err != nil {
			handler.logger.Warnf("dropping url share with bad value: %v", err)
			return
		}
		if value.Name == "" {
			value.Name = value.URL
		}
		if handler.onURL != nil {
			handler.onURL(URLShare{Name: value.Name, URL: value.URL})
		}

	case KindFile:
		handler.handleFile(msg)

	default:
		handler.logger.Warnf("dropping message with unrecognised type %q", msg.Type)
	}
}

func (handler *Handler) handleFile(msg envelope) {
	if !msg.Done {
		var payload byteValues
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			handler.logger.Warnf("dropping file chunk with bad payload: %v", err)
			return
		}
		handler.assembler.Append(payload)
		return
	}

	var meta fileMeta
	if err := json.Unmarshal(msg.Value, &meta); err != nil {
		handler.logger.Warnf("dropping file terminal message with bad metadata: %v", err)
		return
	}

	file := handler.assembler.Complete(meta.Name, meta.Type)
	handler.logger.Infof("received file %q (%s, %d bytes)", file.Name, file.Type, len(file.Data))

	if handler.onFile != nil {
		handler.onFile(file)
	}
}
