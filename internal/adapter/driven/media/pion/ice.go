package pion

import "github.com/pion/webrtc/v4"

// ICEConfig lists the STUN and TURN servers offered to the ICE agent.
type ICEConfig struct {
	STUN       []string
	TURN       []string
	Username   string
	Credential string
	// RelayOnly forces traffic through TURN.
	RelayOnly bool
}

func (c ICEConfig) servers() []webrtc.ICEServer {
	var out []webrtc.ICEServer
	if len(c.STUN) > 0 {
		out = append(out, webrtc.ICEServer{URLs: c.STUN})
	}
	if len(c.TURN) > 0 {
		out = append(out, webrtc.ICEServer{
			URLs:       c.TURN,
			Username:   c.Username,
			Credential: c.Credential,
		})
	}
	return out
}

func (c ICEConfig) configuration() webrtc.Configuration {
	cfg := webrtc.Configuration{ICEServers: c.servers()}
	if c.RelayOnly {
		cfg.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return cfg
}
