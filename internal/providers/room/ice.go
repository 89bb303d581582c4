package room

import (
	"os"
	"strings"

	"github.com/pion/webrtc/v3"
)

var defaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// ICEServersFromEnv reads STUN_SERVERS (comma separated) and an optional TURN_URL
// with TURN_USERNAME / TURN_PASSWORD.
func ICEServersFromEnv() []webrtc.ICEServer {
	stun := defaultSTUN
	if v := os.Getenv("STUN_SERVERS"); v != "" {
		stun = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				stun = append(stun, s)
			}
		}
	}

	var servers []webrtc.ICEServer
	for _, s := range stun {
		servers = append(servers, webrtc.ICEServer{URLs: []string{s}})
	}

	if turnURL := os.Getenv("TURN_URL"); turnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turnURL},
			Username:   os.Getenv("TURN_USERNAME"),
			Credential: os.Getenv("TURN_PASSWORD"),
		})
	}
	return servers
}

// Configuration is what a peer connection for the room should be built with.
func Configuration(servers []webrtc.ICEServer) webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
		BundlePolicy:       webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy:      webrtc.RTCPMuxPolicyRequire,
	}
}
