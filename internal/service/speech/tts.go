package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/facechat/backend/internal/model/speech"
)

const (
	resourceTTSDefault = "volc.service_type.10029"
	resourceTTSSeed    = "seed-tts-2.0"
	resourceTTSClone   = "volc.megatts.default"
)

// TTSClient renders text through the Volcengine unidirectional TTS socket.
type TTSClient struct {
	endpoint string
	appID    string
	token    string
	voice    string
	language string
	dialer   *websocket.Dialer
}

type ttsPayload struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string `json:"speaker"`
		Text        string `json:"text"`
		Language    string `json:"language,omitempty"`
		AudioParams struct {
			Format      string  `json:"format"`
			SampleRate  int     `json:"sample_rate"`
			SpeedRatio  float64 `json:"speed_ratio,omitempty"`
			VolumeRatio float64 `json:"volume_ratio,omitempty"`
		} `json:"audio_params"`
	} `json:"req_params"`
}

type ttsReply struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

// errResourceMismatch marks a voice that belongs to another resource id.
var errResourceMismatch = errors.New("resource ID is mismatched with speaker related resource")

func (c *TTSClient) Synthesize(ctx context.Context, req speechmodel.SynthesisRequest) (*speechmodel.Synthesis, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}

	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = c.voice
	}

	var lastErr error
	for _, resource := range ttsResources(voice) {
		out, err := c.synthesizeWith(ctx, req, voice, resource)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, errResourceMismatch) {
			return nil, err
		}
		log.Printf("[TTS] voice %q rejected by resource %s, trying next", voice, resource)
		lastErr = err
	}
	return nil, lastErr
}

func (c *TTSClient) synthesizeWith(ctx context.Context, req speechmodel.SynthesisRequest, voice, resource string) (*speechmodel.Synthesis, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", c.appID)
	header.Set("X-Api-Access-Key", c.token)
	header.Set("X-Api-Resource-Id", resource)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("connect TTS socket: %w", err)
	}
	defer conn.Close()
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[TTS] connected with logid: %s", logid)
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	format := ttsFormat(req.Format)
	payload := c.buildPayload(req, voice, format)
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal TTS request: %w", err)
	}
	f, err := jsonRequest(raw, false)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, f.encode()); err != nil {
		return nil, fmt.Errorf("send TTS request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    = connectID
		duration int64
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read TTS reply: %w", err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("decode TTS frame: %w", err)
		}

		switch f.kind {
		case kindServerError:
			err := serverError(f)
			if strings.Contains(err.Error(), errResourceMismatch.Error()) {
				return nil, fmt.Errorf("%w: %v", errResourceMismatch, err)
			}
			return nil, err

		case kindServerAudio:
			chunk, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("decompress audio chunk: %w", err)
			}
			audio.Write(chunk)

		case kindServerReply:
			body, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("decompress TTS reply: %w", err)
			}
			var reply ttsReply
			if len(body) > 0 {
				if err := json.Unmarshal(body, &reply); err != nil {
					log.Printf("[TTS] unreadable reply payload: %v", err)
				}
			}
			if reply.Code != 0 && reply.Code != 3000 {
				return nil, fmt.Errorf("TTS API error %d: %s", reply.Code, reply.Message)
			}
			if reply.ReqID != "" {
				reqID = reply.ReqID
			}
			if ms, err := strconv.ParseInt(reply.Addition.Duration, 10, 64); err == nil {
				duration = ms
			}
			if reply.Data != "" {
				chunk, err := base64.StdEncoding.DecodeString(reply.Data)
				if err != nil {
					return nil, fmt.Errorf("decode base64 audio chunk: %w", err)
				}
				audio.Write(chunk)
			}

			finished := (f.hasEvent() && f.event == eventSessionFinished) || f.last() || reply.Sequence < 0
			if !finished {
				continue
			}
			if audio.Len() == 0 {
				return nil, fmt.Errorf("TTS audio is empty")
			}
			return &speechmodel.Synthesis{
				SessionID: req.SessionID,
				Audio:     audio.Bytes(),
				Format:    format,
				Duration:  duration,
				RequestID: reqID,
				CreatedAt: time.Now(),
			}, nil

		default:
			log.Printf("[TTS] unexpected frame kind: %d", f.kind)
		}
	}
}

func (c *TTSClient) buildPayload(req speechmodel.SynthesisRequest, voice, format string) ttsPayload {
	var p ttsPayload
	p.User.UID = req.SessionID
	if p.User.UID == "" {
		p.User.UID = uuid.NewString()
	}
	p.ReqParams.Speaker = voice
	p.ReqParams.Text = req.Text
	p.ReqParams.Language = strings.TrimSpace(req.Language)
	if p.ReqParams.Language == "" {
		p.ReqParams.Language = c.language
	}
	p.ReqParams.AudioParams.Format = format
	p.ReqParams.AudioParams.SampleRate = 24000
	if req.Rate > 0 && req.Rate != 1 {
		p.ReqParams.AudioParams.SpeedRatio = req.Rate
	}
	if req.Volume > 0 && req.Volume != 1 {
		p.ReqParams.AudioParams.VolumeRatio = req.Volume
	}
	return p
}

func ttsFormat(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "ogg_opus", "pcm", "mp3":
		return f
	default:
		return "mp3"
	}
}

// ttsResources lists the resource ids to try for a voice, best match first.
func ttsResources(voice string) []string {
	if strings.HasPrefix(voice, "S_") {
		return []string{resourceTTSClone}
	}
	lower := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "mars"} {
		if strings.Contains(lower, hint) {
			return []string{resourceTTSSeed, resourceTTSDefault}
		}
	}
	return []string{resourceTTSDefault, resourceTTSSeed}
}
