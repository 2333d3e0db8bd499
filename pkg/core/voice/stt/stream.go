package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStreamClosed is returned when audio is sent after Finalize or Close.
var ErrStreamClosed = errors.New("stt stream closed")

// decodeFunc turns one provider message into transcript deltas. done reports
// that the provider has ended the stream.
type decodeFunc func(data []byte) (deltas []TranscriptDelta, done bool, err error)

// wsProtocol is the provider-specific framing of a websocket stream.
type wsProtocol struct {
	decode      decodeFunc
	finalizeMsg []byte
	// keepAliveMsg is sent whenever no audio was written for keepAliveEvery.
	keepAliveMsg   []byte
	keepAliveEvery time.Duration
}

// wsStream is a websocket transcription session shared by the websocket
// providers. Audio is queued to a single writer goroutine; a reader goroutine
// decodes provider messages.
type wsStream struct {
	conn  *websocket.Conn
	proto wsProtocol

	audio       chan []byte
	transcripts chan TranscriptDelta
	done        chan struct{}
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	sendMu     sync.RWMutex
	sendClosed bool
	finalize   sync.Once
	closeOnce  sync.Once

	errMu sync.Mutex
	err   error
}

func dialStream(ctx context.Context, rawURL string, headers http.Header, proto wsProtocol) (*wsStream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	s := &wsStream{
		conn:        conn,
		proto:       proto,
		audio:       make(chan []byte, 32),
		transcripts: make(chan TranscriptDelta, 64),
		done:        make(chan struct{}),
		stop:        make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.transcripts)
		close(s.done)
		_ = conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *wsStream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return ErrStreamClosed
	}
	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.stop:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrStreamClosed
	}
}

func (s *wsStream) Transcripts() <-chan TranscriptDelta { return s.transcripts }

func (s *wsStream) Finalize() error {
	s.finalize.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		s.halt()
		_ = s.conn.Close()
	})
	<-s.done
	return s.Err()
}

func (s *wsStream) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *wsStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *wsStream) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) || errors.Is(err, net.ErrClosed) {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *wsStream) writeLoop() {
	defer s.wg.Done()
	var tick <-chan time.Time
	if len(s.proto.keepAliveMsg) > 0 && s.proto.keepAliveEvery > 0 {
		t := time.NewTicker(s.proto.keepAliveEvery)
		defer t.Stop()
		tick = t.C
	}
	sent := false
	for {
		select {
		case <-s.stop:
			return
		case <-tick:
			if sent {
				sent = false
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, s.proto.keepAliveMsg); err != nil {
				s.setErr(fmt.Errorf("keep alive: %w", err))
				s.halt()
				return
			}
		case chunk, ok := <-s.audio:
			if !ok {
				if len(s.proto.finalizeMsg) > 0 {
					if err := s.conn.WriteMessage(websocket.TextMessage, s.proto.finalizeMsg); err != nil {
						s.setErr(fmt.Errorf("finalize stream: %w", err))
					}
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("send audio: %w", err))
				s.halt()
				return
			}
			sent = true
		}
	}
}

func (s *wsStream) readLoop() {
	defer s.wg.Done()
	defer s.halt()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(err)
			return
		}
		deltas, done, err := s.proto.decode(data)
		if err != nil {
			s.setErr(err)
			return
		}
		for _, d := range deltas {
			select {
			case s.transcripts <- d:
			case <-s.stop:
				return
			}
		}
		if done {
			return
		}
	}
}

func decodeJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode transcript message: %w", err)
	}
	return nil
}
