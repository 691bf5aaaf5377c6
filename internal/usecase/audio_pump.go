package usecase

import (
	"errors"
	"fmt"
	"io"

	"github.com/wailsapp/wails/v2/pkg/logger"

	"livenotes/internal/domain"
	"livenotes/internal/pcm"
	"livenotes/internal/ports"
)

const readBlockSamples = 1024

// pumpAudioFrames moves captured audio through the framer and sends every
// non-silent frame while the gate is open, in capture order. Frames produced
// while the gate is closed are dropped, not queued. When the stream reports
// lost blocks the framer restarts so no frame spans the gap.
func pumpAudioFrames(
	stream ports.CaptureStream,
	framer *pcm.Framer,
	gate *emissionGate,
	channel ports.Channel,
	archive ports.FrameArchive,
	events ports.EventSink,
	log logger.Logger,
	done chan struct{},
) {
	defer close(done)

	dropped := stream.Dropped()
	buf := make([]float32, readBlockSamples)
	for {
		n, err := stream.Read(buf)
		if lost := stream.Dropped(); lost != dropped {
			log.Warning(fmt.Sprintf("session: %d capture block(s) lost, restarting frame", lost-dropped))
			dropped = lost
			framer.Reset()
		}
		if n > 0 {
			for _, frame := range framer.Write(buf[:n]) {
				if framer.Silent(frame) {
					continue
				}
				sent, sendErr := gate.Emit(func() error { return channel.SendAudio(frame.Data) })
				if !sent || sendErr != nil {
					continue
				}
				if archive != nil {
					if archiveErr := archive.WriteFrame(frame.Samples); archiveErr != nil {
						log.Warning(fmt.Sprintf("session: archive disabled: %v", archiveErr))
						archive = nil
					}
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("audio capture error: %v", err))
			}
			framer.Reset()
			return
		}
	}
}
