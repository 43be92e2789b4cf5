package rtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/skillswap-relay/internal/config"
	"github.com/pion/webrtc/v4"
)

// DefaultWebRTCConfig is what clients get when nothing is configured.
func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ClientConfig builds the RTCConfiguration handed to browsers so peers can
// reach each other once signaling completes. Media never touches the relay.
func ClientConfig(servers []config.ICEServer) (webrtc.Configuration, error) {
	if len(servers) == 0 {
		return DefaultWebRTCConfig(), nil
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, s := range servers {
		srv := webrtc.ICEServer{Username: strings.TrimSpace(s.Username)}
		for _, u := range s.URLs {
			if u = strings.TrimSpace(u); u != "" {
				srv.URLs = append(srv.URLs, u)
			}
		}
		if c := strings.TrimSpace(s.Credential); c != "" {
			srv.Credential = c
		}
		if err := validateICEServer(srv); err != nil {
			return webrtc.Configuration{}, fmt.Errorf("ice_servers[%d]: %w", i, err)
		}
		out = append(out, srv)
	}
	return webrtc.Configuration{ICEServers: out}, nil
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	turn := false
	for _, url := range server.URLs {
		switch {
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			turn = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}
	if turn {
		if server.Username == "" {
			return errors.New("turn urls require username")
		}
		if cred, ok := server.Credential.(string); !ok || cred == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}
