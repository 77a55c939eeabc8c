package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	speechmodel "github.com/zhouzirui/facechat/backend/internal/model/speech"
)

const (
	resourceASRDuration = "volc.bigasr.sauc.duration"
	// 16kHz mono 16-bit, 200ms per chunk.
	asrChunkBytes = 6400
	asrChunkPace  = 200 * time.Millisecond
)

// ASRClient transcribes recorded segments through the Volcengine bigmodel
// streaming-input socket.
type ASRClient struct {
	endpoint string
	appID    string
	token    string
	language string
	pace     time.Duration
	dialer   *websocket.Dialer
}

type asrPayload struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate"`
		Bits     int    `json:"bits"`
		Channel  int    `json:"channel"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn"`
		EnablePunc     bool   `json:"enable_punc"`
		ShowUtterances bool   `json:"show_utterances"`
		ResultType     string `json:"result_type"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrReply struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text string `json:"text"`
		} `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info"`
}

func (r asrReply) text() string {
	if r.Result.Text != "" {
		return r.Result.Text
	}
	parts := make([]string, 0, len(r.Result.Utterances))
	for _, u := range r.Result.Utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Transcribe streams one audio segment and waits for the final result.
func (c *ASRClient) Transcribe(ctx context.Context, req speechmodel.TranscriptionRequest) (*speechmodel.Transcription, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("no audio data to transcribe")
	}

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", c.appID)
	header.Set("X-Api-Access-Key", c.token)
	header.Set("X-Api-Resource-Id", resourceASRDuration)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("connect ASR socket: %w", err)
	}
	defer conn.Close()
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[ASR] connected with logid: %s", logid)
		}
	}

	raw, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("marshal ASR request: %w", err)
	}
	start, err := jsonRequest(raw, true)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, start.encode()); err != nil {
		return nil, fmt.Errorf("send ASR request: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { conn.Close() })
	defer stop()

	var result *speechmodel.Transcription
	g.Go(func() error {
		return c.sendAudio(gctx, conn, req.Audio)
	})
	g.Go(func() error {
		out, err := c.receive(conn, req.SessionID)
		if err != nil {
			return err
		}
		result = out
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return result, nil
}

func (c *ASRClient) buildPayload(req speechmodel.TranscriptionRequest) asrPayload {
	var p asrPayload
	p.User.UID = req.SessionID
	p.Audio.Format, p.Audio.Codec = asrAudioFormat(req.Format)
	p.Audio.Language = req.Language
	if p.Audio.Language == "" {
		p.Audio.Language = c.language
	}
	p.Audio.Rate = 16000
	p.Audio.Bits = 16
	p.Audio.Channel = 1
	p.Request.ModelName = "bigmodel"
	p.Request.EnableITN = true
	p.Request.EnablePunc = true
	p.Request.ShowUtterances = true
	p.Request.ResultType = "full"
	p.Request.EndWindowSize = 800
	return p
}

// asrAudioFormat maps a client format or MIME type to the container and
// codec the bigmodel socket accepts. PCM is expected as 16kHz mono 16-bit.
func asrAudioFormat(format string) (string, string) {
	format = strings.ToLower(strings.TrimSpace(format))
	if i := strings.IndexByte(format, ';'); i >= 0 {
		format = format[:i]
	}
	format = strings.TrimPrefix(format, "audio/")

	switch format {
	case "pcm", "raw", "l16":
		return "pcm", "raw"
	case "ogg", "opus":
		return "ogg", "opus"
	case "mp3", "mpeg":
		return "mp3", "raw"
	default:
		return "wav", "raw"
	}
}

// sendAudio paces chunks like a live microphone. Sequence 1 belongs to the
// request frame.
func (c *ASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	seq := int32(2)
	for offset := 0; offset < len(audio); offset += asrChunkBytes {
		end := min(offset+asrChunkBytes, len(audio))
		last := end == len(audio)

		f, err := audioRequest(audio[offset:end], seq, last)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, f.encode()); err != nil {
			return fmt.Errorf("send audio chunk %d: %w", seq, err)
		}
		if last {
			return nil
		}
		seq++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pace):
		}
	}
	return nil
}

func (c *ASRClient) receive(conn *websocket.Conn, sessionID string) (*speechmodel.Transcription, error) {
	var (
		text     string
		duration int64
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read ASR reply: %w", err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("decode ASR frame: %w", err)
		}

		switch f.kind {
		case kindServerError:
			return nil, serverError(f)
		case kindServerReply:
			body, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("decompress ASR reply: %w", err)
			}
			var reply asrReply
			if err := json.Unmarshal(body, &reply); err != nil {
				log.Printf("[ASR] unreadable reply payload: %v", err)
				continue
			}
			if reply.Code != 0 && reply.Code != 20000000 {
				return nil, fmt.Errorf("ASR API error %d: %s", reply.Code, reply.Message)
			}
			if t := reply.text(); t != "" {
				text = t
			}
			if reply.AudioInfo.Duration > 0 {
				duration = reply.AudioInfo.Duration
			}
			if f.last() || reply.Sequence < 0 {
				return &speechmodel.Transcription{
					SessionID: sessionID,
					Text:      text,
					Duration:  duration,
					RequestID: sessionID,
					CreatedAt: time.Now(),
				}, nil
			}
		}
	}
}
