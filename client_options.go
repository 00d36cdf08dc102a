package connect

import (
	"fmt"
	"time"

	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

type ClientOption = func(*Client) error

const (
	VP8PayloadType     webrtc.PayloadType = 96
	VP8RTXPayloadType  webrtc.PayloadType = 97
	H264PayloadType    webrtc.PayloadType = 102
	H264RTXPayloadType webrtc.PayloadType = 103
	OpusPayloadType    webrtc.PayloadType = 111
)

func WithLoggerFactory(loggerFactory logging.LoggerFactory) ClientOption {
	return func(client *Client) error {
		client.loggerFactory = loggerFactory
		return nil
	}
}

func WithDefaultMediaEngine() ClientOption {
	return func(client *Client) error {
		return client.mediaEngine.RegisterDefaultCodecs()
	}
}

func WithDefaultInterceptorRegistry() ClientOption {
	return func(client *Client) error {
		return webrtc.RegisterDefaultInterceptors(client.mediaEngine, client.interceptorRegistry)
	}
}

func WithVP8MediaEngine(clockrate uint32) ClientOption {
	return func(client *Client) error {
		RTCPFeedback := []webrtc.RTCPFeedback{{Type: webrtc.TypeRTCPFBGoogREMB}, {Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"}, {Type: webrtc.TypeRTCPFBNACK}, {Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"}}
		if err := client.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeVP8,
				ClockRate:    clockrate,
				RTCPFeedback: RTCPFeedback,
			},
			PayloadType: VP8PayloadType,
		}, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}

		return client.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeRTX,
				ClockRate:   clockrate,
				SDPFmtpLine: fmt.Sprintf("apt=%d", VP8PayloadType),
			},
			PayloadType: VP8RTXPayloadType,
		}, webrtc.RTPCodecTypeVideo)
	}
}

func WithH264MediaEngine(clockrate uint32) ClientOption {
	return func(client *Client) error {
		RTCPFeedback := []webrtc.RTCPFeedback{{Type: webrtc.TypeRTCPFBGoogREMB}, {Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"}, {Type: webrtc.TypeRTCPFBNACK}, {Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"}}
		if err := client.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeH264,
				ClockRate:    clockrate,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1",
				RTCPFeedback: RTCPFeedback,
			},
			PayloadType: H264PayloadType,
		}, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}

		return client.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeRTX,
				ClockRate:   clockrate,
				SDPFmtpLine: fmt.Sprintf("apt=%d", H264PayloadType),
			},
			PayloadType: H264RTXPayloadType,
		}, webrtc.RTPCodecTypeVideo)
	}
}

func WithOpusMediaEngine(samplerate uint32, channelLayout uint16) ClientOption {
	return func(client *Client) error {
		return client.mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   samplerate,
				Channels:    channelLayout,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: OpusPayloadType,
		}, webrtc.RTPCodecTypeAudio)
	}
}

func WithNACKInterceptor() ClientOption {
	return func(client *Client) error {
		generator, err := nack.NewGeneratorInterceptor()
		if err != nil {
			return err
		}
		responder, err := nack.NewResponderInterceptor()
		if err != nil {
			return err
		}

		client.mediaEngine.RegisterFeedback(webrtc.RTCPFeedback{Type: webrtc.TypeRTCPFBNACK}, webrtc.RTPCodecTypeVideo)
		client.mediaEngine.RegisterFeedback(webrtc.RTCPFeedback{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"}, webrtc.RTPCodecTypeVideo)
		client.interceptorRegistry.Add(responder)
		client.interceptorRegistry.Add(generator)

		return nil
	}
}

func WithRTCPReportsInterceptor(interval time.Duration) ClientOption {
	return func(client *Client) error {
		receiver, err := report.NewReceiverInterceptor(report.ReceiverInterval(interval))
		if err != nil {
			return err
		}
		sender, err := report.NewSenderInterceptor(report.SenderInterval(interval))
		if err != nil {
			return err
		}

		client.interceptorRegistry.Add(receiver)
		client.interceptorRegistry.Add(sender)

		return nil
	}
}

func WithStatsInterceptor() ClientOption {
	return func(client *Client) error {
		g, err := stats.NewInterceptor()
		if err != nil {
			return err
		}

		g.OnNewPeerConnection(func(id string, getter stats.Getter) {
			client.setStatsGetter(getter)
		})

		client.interceptorRegistry.Add(g)
		return nil
	}
}
