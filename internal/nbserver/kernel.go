package nbserver

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/inkwell-ai/inkwell/pkg/protocol"
)

// serveKernel runs the stub kernel protocol on one channel. It greets with a
// hello frame, then answers every execute_request with the full busy / stream /
// reply / idle sequence. The "runtime" just echoes the submitted source to
// stdout; real kernels sit behind the same frames.
func serveKernel(conn *websocket.Conn, log *logrus.Entry) {
	write := func(msg protocol.KernelMessage) bool {
		if err := conn.WriteJSON(msg); err != nil {
			log.WithError(err).Debug("kernel channel write failed")
			return false
		}
		return true
	}

	if !write(protocol.KernelMessage{Hello: &protocol.Hello{}}) {
		return
	}

	for {
		var req protocol.KernelRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		switch {
		case req.Execute != nil:
			start := time.Now()
			ok := write(protocol.KernelMessage{
				Status: &protocol.Status{State: protocol.KernelBusy},
			}) && write(protocol.KernelMessage{
				Stream: &protocol.Stream{
					CellID: req.Execute.CellID,
					Name:   "stdout",
					Text:   req.Execute.Code,
				},
			}) && write(protocol.KernelMessage{
				ExecuteReply: &protocol.ExecuteReply{
					CellID:     req.Execute.CellID,
					ExecTimeMs: time.Since(start).Milliseconds(),
					Status:     "ok",
				},
			}) && write(protocol.KernelMessage{
				Status: &protocol.Status{State: protocol.KernelIdle},
			})
			if !ok {
				return
			}
		case req.Interrupt != nil:
			// Nothing runs long enough to interrupt in the stub.
		}
	}
}
