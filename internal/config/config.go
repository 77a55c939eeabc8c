package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server       ServerConfig
	AI           AIConfig
	Speech       SpeechConfig
	Capture      CaptureConfig
	Face         FaceConfig
	Voice        VoiceConfig
	Conversation ConversationConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	capture, err := loadCaptureConfig()
	if err != nil {
		return nil, err
	}

	face, err := loadFaceConfig()
	if err != nil {
		return nil, err
	}

	voice, err := loadVoiceConfig()
	if err != nil {
		return nil, err
	}

	conversation, err := loadConversationConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:       server,
		AI:           ai,
		Speech:       speech,
		Capture:      capture,
		Face:         face,
		Voice:        voice,
		Conversation: conversation,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// SessionTTL 是已创建但从未连接 WebSocket 的会话的保留时长，0 表示不清理。
	SessionTTL time.Duration
}

// loadServerConfig 解析服务器监听地址与会话清理周期。
func loadServerConfig() (ServerConfig, error) {
	ttl, err := parseDurationEnv("SESSION_TTL", 10*time.Minute)
	if err != nil {
		return ServerConfig{}, err
	}
	if ttl < 0 {
		return ServerConfig{}, fmt.Errorf("SESSION_TTL must not be negative, got %s", ttl)
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, SessionTTL: ttl}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, SessionTTL: ttl}, nil
}

// 支持的大模型提供方。
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     string
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    *int
}

// SpeechConfig 描述服务端语音（火山引擎）相关配置。浏览器自带的识别与合成不依赖它。
type SpeechConfig struct {
	AppID       string
	AccessToken string
	ASRLanguage string
	TTSVoice    string
	TTSLanguage string
	TTSEndpoint string
	ASREndpoint string
	Timeout     int
	Enabled     bool
}

// CaptureConfig 描述连续语音识别与防抖配置。
type CaptureConfig struct {
	Debounce time.Duration
	Language string
}

// FaceConfig 描述人脸在场检测配置。
type FaceConfig struct {
	ModelPath      string
	Interval       time.Duration
	InputSize      int
	ScoreThreshold float64
}

// VoiceConfig 是朗读回复时使用的固定语音参数。
type VoiceConfig struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

// ConversationConfig 限制每个会话的对话队列。
type ConversationConfig struct {
	QueueSize int
	Timeout   time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	if c.Provider == ProviderArk {
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
	return c.APIKey != ""
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s 凭证或模型配置缺失", c.Provider)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	switch c.Provider {
	case ProviderGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		cfg := &gemini.Config{
			Client:      client,
			Model:       c.Model,
			Temperature: temperature,
		}
		if c.MaxTokens != nil {
			maxTokens := *c.MaxTokens
			cfg.MaxTokens = &maxTokens
		}
		return gemini.NewChatModel(ctx, cfg)

	case ProviderArk:
		cfg := &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: temperature,
		}
		return ark.NewChatModel(ctx, cfg)

	case ProviderOpenAI:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     c.BaseURL,
			APIKey:      c.APIKey,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: temperature,
		})

	default:
		return nil, fmt.Errorf("unsupported AI_PROVIDER %q", c.Provider)
	}
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderGemini))
	cfg := AIConfig{
		Provider:     provider,
		SystemPrompt: strings.TrimSpace(os.Getenv("AI_SYSTEM_PROMPT")),
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	}

	switch provider {
	case ProviderGemini:
		cfg.APIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
		cfg.Model = getEnvOrDefault("AI_MODEL", "gemini-2.0-flash")
	case ProviderArk:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.Model = strings.TrimSpace(os.Getenv("AI_MODEL"))
		cfg.BaseURL = getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
	case ProviderOpenAI:
		cfg.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		cfg.Model = getEnvOrDefault("AI_MODEL", "gpt-4o-mini")
		cfg.BaseURL = getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	return cfg, nil
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}

	return SpeechConfig{
		AppID:       appID,
		AccessToken: accessToken,
		ASRLanguage: getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		TTSVoice:    getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		TTSLanguage: getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		TTSEndpoint: getEnvOrDefault("SPEECH_TTS_URL", "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"),
		ASREndpoint: getEnvOrDefault("SPEECH_ASR_URL", "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"),
		Timeout:     timeoutSeconds,
		Enabled:     appID != "" && accessToken != "",
	}, nil
}

func loadCaptureConfig() (CaptureConfig, error) {
	debounce, err := parseDurationEnv("CAPTURE_DEBOUNCE", 1500*time.Millisecond)
	if err != nil {
		return CaptureConfig{}, err
	}
	if debounce <= 0 {
		return CaptureConfig{}, fmt.Errorf("CAPTURE_DEBOUNCE must be positive, got %s", debounce)
	}

	return CaptureConfig{
		Debounce: debounce,
		Language: getEnvOrDefault("CAPTURE_LANGUAGE", "en-US"),
	}, nil
}

func loadFaceConfig() (FaceConfig, error) {
	interval, err := parseDurationEnv("FACE_INTERVAL", time.Second)
	if err != nil {
		return FaceConfig{}, err
	}
	if interval <= 0 {
		return FaceConfig{}, fmt.Errorf("FACE_INTERVAL must be positive, got %s", interval)
	}

	inputSize := 224
	if override, err := parseOptionalIntEnv("FACE_INPUT_SIZE"); err != nil {
		return FaceConfig{}, err
	} else if override != nil {
		inputSize = *override
	}
	if inputSize <= 0 {
		return FaceConfig{}, fmt.Errorf("FACE_INPUT_SIZE must be positive, got %d", inputSize)
	}

	threshold := 0.5
	if override, err := parseOptionalFloatEnv("FACE_SCORE_THRESHOLD"); err != nil {
		return FaceConfig{}, err
	} else if override != nil {
		threshold = *override
	}

	return FaceConfig{
		ModelPath:      getEnvOrDefault("FACE_MODEL_PATH", "models/face_detection_yunet.onnx"),
		Interval:       interval,
		InputSize:      inputSize,
		ScoreThreshold: threshold,
	}, nil
}

func loadVoiceConfig() (VoiceConfig, error) {
	voice := VoiceConfig{Rate: 0.9, Pitch: 1, Volume: 1}

	overrides := []struct {
		key string
		dst *float64
	}{
		{"VOICE_RATE", &voice.Rate},
		{"VOICE_PITCH", &voice.Pitch},
		{"VOICE_VOLUME", &voice.Volume},
	}
	for _, o := range overrides {
		val, err := parseOptionalFloatEnv(o.key)
		if err != nil {
			return VoiceConfig{}, err
		}
		if val != nil {
			*o.dst = *val
		}
	}

	return voice, nil
}

func loadConversationConfig() (ConversationConfig, error) {
	queueSize := 1
	if override, err := parseOptionalIntEnv("CONVERSATION_QUEUE"); err != nil {
		return ConversationConfig{}, err
	} else if override != nil {
		if *override < 1 {
			queueSize = 1
		} else {
			queueSize = *override
		}
	}

	// 0 表示不限制远程调用时长。
	timeout, err := parseDurationEnv("CONVERSATION_TIMEOUT", 0)
	if err != nil {
		return ConversationConfig{}, err
	}

	return ConversationConfig{QueueSize: queueSize, Timeout: timeout}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
