// Package webrtc drives a pion PeerConnection as a negotiation.Transport.
package webrtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/util"
)

// NewPeerConnection creates a PeerConnection that logs through util and
// receives one audio and one video track.
func NewPeerConnection(iceServers []webrtc.ICEServer) (*webrtc.PeerConnection, error) {
	se := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, err
		}
	}
	return pc, nil
}

// newControlChannel creates the pre-negotiated control DataChannel. Both
// sides create it with the same id, so neither waits for OnDataChannel.
func newControlChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	negotiated := true
	id := uint16(0)
	return pc.CreateDataChannel("control", &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
}
