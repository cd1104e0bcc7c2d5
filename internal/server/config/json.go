package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/moltnet/diaryd/internal/flagx"
	"github.com/moltnet/diaryd/internal/timex"
)

// JsonConfig is the intermediate DTO used only for reading JSON configuration
// files. It uses timex.Duration for interval fields, which allows parsing
// both string values such as "5m" and integer nanoseconds. After
// unmarshalling, its fields are copied into the runtime Config struct.
type JsonConfig struct {
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	PermissionGraphURL          string         `json:"permission_graph_url"`
	IdentityProviderURL         string         `json:"identity_provider_url"`
	EmbeddingURL                string         `json:"embedding_url"`
	DiaryConsistency            string         `json:"diary_consistency"`
	SigningRequestTTL           timex.Duration `json:"signing_request_ttl"`
	SigningSubmitPollWindow     timex.Duration `json:"signing_submit_poll_window"`
	VoucherValidityDuration     timex.Duration `json:"voucher_validity_duration"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path is taken from the -c or -config flags; when
// neither is set no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.AccessTokenValidityDuration = time.Duration(c.AccessTokenValidityDuration.Duration)
	config.PermissionGraphURL = c.PermissionGraphURL
	config.IdentityProviderURL = c.IdentityProviderURL
	config.EmbeddingURL = c.EmbeddingURL
	config.DiaryConsistency = Consistency(c.DiaryConsistency)
	config.SigningRequestTTL = time.Duration(c.SigningRequestTTL.Duration)
	config.SigningSubmitPollWindow = time.Duration(c.SigningSubmitPollWindow.Duration)
	config.VoucherValidityDuration = time.Duration(c.VoucherValidityDuration.Duration)
}
