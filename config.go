package connect

import (
	"os"

	"github.com/pion/webrtc/v4"
)

// GetSTUNRTCConfiguration is the default ICE setup: public STUN with an
// aggressive candidate pool so gathering overlaps with signaling.
func GetSTUNRTCConfiguration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{
					"stun:stun1.l.google.com:19302",
					"stun:stun2.l.google.com:19302",
				},
			},
		},
		ICECandidatePoolSize: 10,
	}
}

// GetFullRTCConfiguration reads STUN and TURN servers from the environment.
// Use when peers sit behind symmetric NATs where STUN alone cannot connect.
func GetFullRTCConfiguration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{os.Getenv("STUN_SERVER_URL")},
			},
			{
				URLs:           []string{os.Getenv("TURN_UDP_SERVER_URL")},
				Username:       os.Getenv("TURN_SERVER_USERNAME"),
				Credential:     os.Getenv("TURN_SERVER_PASSWORD"),
				CredentialType: webrtc.ICECredentialTypePassword,
			},
			{
				URLs:           []string{os.Getenv("TURN_TCP_SERVER_URL")},
				Username:       os.Getenv("TURN_SERVER_USERNAME"),
				Credential:     os.Getenv("TURN_SERVER_PASSWORD"),
				CredentialType: webrtc.ICECredentialTypePassword,
			},
		},
		ICECandidatePoolSize: 10,
	}
}
