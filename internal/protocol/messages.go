package protocol

import "time"

// Prediction is the body served by the classifier's /get_prediction.
type Prediction struct {
	Prediction string `json:"prediction,omitempty"`
}

// SentenceUpdate is broadcast whenever the sentence changes.
type SentenceUpdate struct {
	SessionID string    `json:"session_id"`
	Op        string    `json:"op"`
	Symbol    string    `json:"symbol,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SentenceEdit asks the runtime to apply a manual edit (space, backspace, clear).
type SentenceEdit struct {
	SessionID string `json:"session_id,omitempty"`
	Op        string `json:"op"`
}

// SpeakRequest asks the runtime to speak the current sentence.
type SpeakRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Voice     string `json:"voice,omitempty"`
}

// AudioChunk carries synthesized PCM.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TTSStatus reports the end of an utterance.
type TTSStatus struct {
	SessionID  string    `json:"session_id"`
	Completed  bool      `json:"completed"`
	Superseded bool      `json:"superseded,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot is the view of a session served to clients.
type Snapshot struct {
	SessionID   string    `json:"session_id"`
	CurrentSign string    `json:"current_sign"`
	Sentence    string    `json:"sentence"`
	Speaking    bool      `json:"speaking"`
	VideoFeed   string    `json:"video_feed,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	SubjectSentenceUpdated = "sentence.updated"
	SubjectSentenceEdit    = "sentence.edit"
	SubjectSentenceSpeak   = "sentence.speak"
	SubjectTTSAudio        = "tts.audio"
	SubjectTTSDone         = "tts.done"
)
