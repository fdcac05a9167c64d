package protocol

// GenerateAudioRequest is the body of POST /generate-audio.
type GenerateAudioRequest struct {
	Text string `json:"text"`
}

// AudioURLResponse returns a hosted audio file.
type AudioURLResponse struct {
	AudioURL string `json:"audio_url"`
}

// TranscriptionResponse returns a file transcription.
type TranscriptionResponse struct {
	Transcription string `json:"transcription"`
}

// ChatResponse is the result of a single-turn chat.
type ChatResponse struct {
	Transcription string `json:"transcription"`
	Reply         string `json:"reply"`
	AudioURL      string `json:"audio_url,omitempty"`
}

// KeysRequest updates API keys at runtime. Blank fields are left alone.
type KeysRequest struct {
	Murf          string `json:"murf"`
	AssemblyAI    string `json:"assemblyai"`
	Gemini        string `json:"gemini"`
	Finnhub       string `json:"finnhub"`
	AlphaVantage  string `json:"alpha_vantage"`
	OpenWeather   string `json:"openweather"`
	Polygon       string `json:"polygon"`
	CoinMarketCap string `json:"coinmarketcap"`
}

// KeysResponse lists the keys that changed.
type KeysResponse struct {
	Status  string   `json:"status"`
	Updated []string `json:"updated"`
}

// ErrorResponse is the body of HTTP error replies.
type ErrorResponse struct {
	Error string `json:"error"`
}
