package config

// BackendDeepgram and BackendWhisper are the recognized backend names.
const (
	BackendDeepgram = "deepgram"
	BackendWhisper  = "whisper"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Assistant: AssistantConfig{
			URL:           "ws://127.0.0.1:8487/assistant",
			DialTimeoutMS: 5000,
		},
		Recognizer: RecognizerConfig{
			Backend:        BackendDeepgram,
			Language:       "en-US",
			Model:          "",
			InterimResults: true,
			SmartFormat:    true,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Session: SessionConfig{
			ReplyReceivedMS:    1500,
			ReplyReadyMS:       2000,
			ErrorRecoverMS:     1000,
			MinUtteranceChars:  0,
			DispatchCooldownMS: 0,
			Restart: RestartConfig{
				DebounceMS:  0,
				MaxAttempts: 5,
			},
		},
		Cues: CueConfig{Enable: true},
		Feed: FeedConfig{
			Enable: true,
			Listen: "127.0.0.1:8742",
		},
		Journal: JournalConfig{Enable: true},
		Debug:   DebugConfig{LogLevel: "info"},
	}
}
