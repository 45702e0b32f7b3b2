package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"omni-agent/internal/adapter/speech"
	"omni-agent/internal/domain"
	"omni-agent/internal/usecase/chat"
)

const (
	voiceReadLimit    = 8 << 20
	voiceWriteTimeout = 10 * time.Second
)

// voiceConn is one /ws/conversation connection. Turns on a connection are
// handled in order and share one session.
type voiceConn struct {
	srv       *Server
	ws        *websocket.Conn
	sessionID string
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voice == nil {
		writeError(w, http.StatusServiceUnavailable, "voice conversation is not available")
		return
	}
	ws, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(voiceReadLimit)
	defer ws.Close(websocket.StatusNormalClosure, "")

	vc := &voiceConn{srv: s, ws: ws}
	s.logger.Info("voice conversation connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				s.logger.Debug("voice conversation read ended", "error", err)
			}
			break
		}
		if err := vc.turn(ctx, typ, data); err != nil {
			s.logger.Warn("voice turn failed", "error", err, "session_id", vc.sessionID)
			if werr := vc.writeFrame(ctx, Frame{Type: FrameTypeError, SessionID: vc.sessionID, Error: domain.SanitizeError(err)}); werr != nil {
				break
			}
		}
	}
	s.logger.Info("voice conversation disconnected", "session_id", vc.sessionID)
}

// turn transcribes an audio frame (or takes a text frame as is), runs it
// through the voice service and answers with text frames then audio.
func (vc *voiceConn) turn(ctx context.Context, typ websocket.MessageType, data []byte) error {
	var text string
	switch typ {
	case websocket.MessageText:
		text = strings.TrimSpace(string(data))
	case websocket.MessageBinary:
		t, err := vc.transcribe(ctx, data)
		if err != nil {
			return err
		}
		text = t
	}
	if text == "" {
		return domain.ErrEmptyMessage
	}

	if err := vc.writeFrame(ctx, Frame{Type: FrameTypeTranscript, Text: text, SessionID: vc.sessionID}); err != nil {
		return err
	}

	out, err := vc.srv.deps.Voice.Process(ctx, chat.Input{Message: text, SessionID: vc.sessionID})
	if err != nil {
		return err
	}
	vc.sessionID = out.SessionID

	if err := vc.writeFrame(ctx, Frame{
		Type:      FrameTypeResponse,
		Text:      out.Response,
		SessionID: out.SessionID,
		Agent:     string(out.Agent),
	}); err != nil {
		return err
	}

	if vc.srv.deps.TTS == nil || strings.TrimSpace(out.Response) == "" {
		return nil
	}
	audio, err := vc.srv.deps.TTS.Synthesize(ctx, out.Response)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, voiceWriteTimeout)
	defer cancel()
	return vc.ws.Write(wctx, websocket.MessageBinary, audio)
}

func (vc *voiceConn) transcribe(ctx context.Context, pcm []byte) (string, error) {
	if vc.srv.deps.STT == nil {
		return "", domain.NewDomainError("voice.transcribe", domain.ErrDisabled, "speech-to-text is not configured")
	}
	wav, err := speech.FloatPCMToWAV(pcm, vc.srv.deps.SampleRate)
	if err != nil {
		return "", err
	}
	return vc.srv.deps.STT.Transcribe(ctx, wav, "audio.wav")
}

func (vc *voiceConn) writeFrame(ctx context.Context, f Frame) error {
	wctx, cancel := context.WithTimeout(ctx, voiceWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, vc.ws, f)
}
