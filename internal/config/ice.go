package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

// ICEServer is the browser RTCIceServer shape served from /webrtc/ice and
// accepted in AERO_ICE_SERVERS_JSON.
type ICEServer struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

// urlList accepts either a single URL string or an array of them.
type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("urls must be a string or an array of strings")
	}
	*l = many
	return nil
}

// ParseICEServers builds the ICE server list handed to peers. The JSON form
// wins when set; otherwise the STUN/TURN convenience values are used. An empty
// result is valid and means host candidates only.
//
// With turnREST, TURN servers may omit credentials since /webrtc/ice issues
// them per request.
func ParseICEServers(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, turnREST bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := parseICEServersJSON(raw, turnREST)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return iceServersFromURLLists(stunURLs, turnURLs, turnUsername, turnCredential, turnREST)
}

// ParseICEServersJSON parses a JSON array of RTCIceServer objects.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	return parseICEServersJSON(raw, false)
}

func parseICEServersJSON(raw string, turnREST bool) ([]webrtc.ICEServer, error) {
	var in []ICEServer
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(in))
	for i, s := range in {
		server := webrtc.ICEServer{
			URLs:     splitCommaSeparated(strings.Join(s.URLs, ",")),
			Username: strings.TrimSpace(s.Username),
		}
		if strings.TrimSpace(s.Credential) != "" {
			server.Credential = s.Credential
		}
		if err := validateICEServer(server, turnREST); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

func iceServersFromURLLists(stunURLs, turnURLs, turnUsername, turnCredential string, turnREST bool) ([]webrtc.ICEServer, error) {
	var out []webrtc.ICEServer

	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		server := webrtc.ICEServer{URLs: urls}
		if err := validateICEServer(server, false); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		out = append(out, server)
	}

	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		username := strings.TrimSpace(turnUsername)
		credential := strings.TrimSpace(turnCredential)
		if !turnREST && (username == "" || credential == "") {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server := webrtc.ICEServer{URLs: urls, Username: username}
		if credential != "" {
			server.Credential = credential
		}
		if err := validateICEServer(server, turnREST); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		out = append(out, server)
	}

	return out, nil
}

// PublicICEServers converts servers to the JSON shape browsers expect.
func PublicICEServers(servers []webrtc.ICEServer) []ICEServer {
	out := make([]ICEServer, 0, len(servers))
	for _, s := range servers {
		pub := ICEServer{
			URLs:     append(urlList(nil), s.URLs...),
			Username: s.Username,
		}
		if cred, ok := s.Credential.(string); ok {
			pub.Credential = cred
		}
		out = append(out, pub)
	}
	return out
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateICEServer(server webrtc.ICEServer, turnREST bool) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	needsCredentials := false
	for _, u := range server.URLs {
		scheme, _, ok := strings.Cut(strings.ToLower(u), ":")
		if !ok {
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
		switch scheme {
		case "stun", "stuns":
		case "turn", "turns":
			needsCredentials = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}

	if needsCredentials && !turnREST {
		if server.Username == "" {
			return errors.New("turn urls require username")
		}
		if cred, ok := server.Credential.(string); !ok || strings.TrimSpace(cred) == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}
