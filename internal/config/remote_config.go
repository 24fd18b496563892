package config

// RemoteConfig describes the KAIS OpenData endpoints and the HTTP behaviour
// used against them.
type RemoteConfig struct {
	BaseURL            string  `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"required,url"`
	OpenDataPath       string  `json:"open_data_path,omitempty" yaml:"open_data_path,omitempty" validate:"required,startswith=/"`
	ReadPath           string  `json:"read_path,omitempty" yaml:"read_path,omitempty" validate:"required,startswith=/"`
	DownloadPath       string  `json:"download_path,omitempty" yaml:"download_path,omitempty" validate:"required,startswith=/"`
	TokenField         string  `json:"token_field,omitempty" yaml:"token_field,omitempty" validate:"required"`
	UserAgent          string  `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	AcceptLanguage     string  `json:"accept_language,omitempty" yaml:"accept_language,omitempty"`
	HTTP2              bool    `json:"http2" yaml:"http2"`
	RequestTimeoutSecs int     `json:"request_timeout_secs,omitempty" yaml:"request_timeout_secs,omitempty" validate:"min=1"`
	RequestsPerSecond  float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty" validate:"min=0"`
	MaxRetries         int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty" validate:"min=0,max=10"`
	InsecureSkipVerify bool    `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// NewDefaultRemoteConfig creates default remote configuration
func NewDefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		BaseURL:            DefaultRemoteBaseURL,
		OpenDataPath:       DefaultRemoteOpenDataPath,
		ReadPath:           DefaultRemoteReadPath,
		DownloadPath:       DefaultRemoteDownloadPath,
		TokenField:         DefaultRemoteTokenField,
		UserAgent:          DefaultRemoteUserAgent,
		AcceptLanguage:     DefaultRemoteAcceptLanguage,
		HTTP2:              true,
		RequestTimeoutSecs: DefaultRemoteRequestTimeoutSecs,
		RequestsPerSecond:  DefaultRemoteRequestsPerSecond,
		MaxRetries:         DefaultRemoteMaxRetries,
	}
}
