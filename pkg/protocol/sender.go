package protocol

import (
	"fmt"

	"github.com/pion/logging"
)

// SendFunc delivers one encoded wire message to the peer. The data channel's
// Send method satisfies it.
type SendFunc = func([]byte) error

type SenderOption = func(*Sender) error

// WithChunkSize overrides the slice size used for outbound file transfers.
func WithChunkSize(size int) SenderOption {
	return func(sender *Sender) error {
		chunker, err := NewChunker(size)
		if err != nil {
			return err
		}
		sender.chunker = chunker
		return nil
	}
}

// Sender encodes outbound messages onto a data channel. Sends are
// fire-and-forget with no flow-control handshake; the channel's internal
// buffering is the only backlog protection, so callers feeding very large
// files should pace themselves.
type Sender struct {
	send    SendFunc
	chunker *Chunker
	logger  logging.LeveledLogger
}

func CreateSender(send SendFunc, loggerFactory logging.LoggerFactory, options ...SenderOption) (*Sender, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	chunker, err := NewChunker(DefaultFileChunkSize)
	if err != nil {
		return nil, err
	}

	sender := &Sender{
		send:    send,
		chunker: chunker,
		logger:  loggerFactory.NewLogger("protocol"),
	}

	for _, option := range options {
		if err := option(sender); err != nil {
			return nil, err
		}
	}

	return sender, nil
}

// SendNotes publishes the full current notes state.
func (sender *Sender) SendNotes(content string) error {
	encoded, err := EncodeNotes(content)
	if err != nil {
		return fmt.Errorf("error while encoding notes: %w", err)
	}
	return sender.send(encoded)
}

// SendURLShare publishes a URL reference.
func (sender *Sender) SendURLShare(name, url string) error {
	encoded, err := EncodeURLShare(name, url)
	if err != nil {
		return fmt.Errorf("error while encoding url share: %w", err)
	}
	return sender.send(encoded)
}

// SendFile streams data as fragments followed by exactly one terminal
// metadata message. The transfer must not be interleaved with another
// SendFile on the same connection; the receiving buffer is shared.
func (sender *Sender) SendFile(name, mimeType string, data []byte) error {
	sent := 0
	for chunk := range sender.chunker.Chunks(data) {
		encoded, err := EncodeFileChunk(chunk)
		if err != nil {
			return fmt.Errorf("error while encoding file chunk: %w", err)
		}
		if err := sender.send(encoded); err != nil {
			return fmt.Errorf("error while sending file chunk at offset %d: %w", sent, err)
		}
		sent += len(chunk)
	}

	encoded, err := EncodeFileDone(name, mimeType)
	if err != nil {
		return fmt.Errorf("error while encoding file terminal message: %w", err)
	}
	if err := sender.send(encoded); err != nil {
		return fmt.Errorf("error while sending file terminal message: %w", err)
	}

	sender.logger.Infof("sent file %q (%s, %d bytes)", name, mimeType, sent)
	return nil
}
