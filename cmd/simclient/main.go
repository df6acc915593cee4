// Command simclient is a headless game client: it joins a server, predicts
// its own movement locally, reconciles against snapshots, and steers toward
// random waypoints. Useful for load testing and for exercising the netcode
// without a renderer.
package main

import (
	"flag"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"prism-arena/internal/client"
	"prism-arena/internal/config"
	"prism-arena/internal/protocol"
)

func main() {
	godotenv.Load(".env")

	var (
		serverURL = flag.String("url", "ws://localhost:3000/ws", "server websocket URL")
		name      = flag.String("name", "sim", "player name")
		duration  = flag.Duration("duration", 0, "exit after this long (0 = run until signal)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := config.ClientFromEnv()

	world := client.NewWorld(1 << 12)
	predictor := client.NewPredictor(world, cfg.PendingInputCap, cfg.ReconcileThreshold)
	interp := client.NewInterpolator(cfg.SnapshotBuffer, cfg.InterpDelay)

	joined := make(chan protocol.JoinAck, 1)

	nc := client.NewNetClient(*serverURL+"?name="+*name, cfg, client.Handlers{
		OnJoinAck: func(ack protocol.JoinAck) {
			world.ApplyJoinAck(ack)
			select {
			case joined <- ack:
			default:
			}
		},
		OnSnapshot: func(f *protocol.Frame, recvAt time.Time) {
			interp.Push(f, recvAt)
			local := world.LocalIndex()
			for i := range f.Entities {
				if int(f.Entities[i].Index) == local {
					predictor.Reconcile(f.Entities[i])
					break
				}
			}
		},
		OnCorrection: func(x, y float64) {
			world.SetLocalState(x, y, 0, 0)
		},
	}, log)

	go nc.Run()
	defer nc.Stop()

	select {
	case ack := <-joined:
		log.Info("joined", "slot", ack.Index, "tick_rate", ack.TickRate)
	case <-time.After(15 * time.Second):
		log.Error("join timed out")
		return
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	// Steer toward a waypoint, picking a new one on arrival. Inputs go out
	// at the client rate; the server consumes the latest one per tick.
	ticker := time.NewTicker(time.Second / time.Duration(cfg.TickRateHz))
	defer ticker.Stop()

	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	wpX, wpY := randomWaypoint()
	frameDt := 1.0 / float64(cfg.TickRateHz)
	var samples []client.InterpEntity

	for {
		select {
		case <-ticker.C:
			x, y := world.LocalPos()
			if math.Hypot(wpX-x, wpY-y) < 30 {
				wpX, wpY = randomWaypoint()
			}

			msg := predictor.Apply(protocol.InputMsg{
				TargetX: wpX,
				TargetY: wpY,
				Space:   rand.Float64() < 0.005,
			})
			if err := nc.SendInput(msg); err != nil {
				log.Warn("send failed", "error", err)
			}
			predictor.DecaySmoothing(frameDt)
			samples = interp.Sample(time.Now(), world.LocalIndex(), samples[:0])

		case <-report.C:
			x, y := predictor.RenderPos()
			log.Info("status",
				"conn", nc.Status().String(),
				"pos_x", int(x), "pos_y", int(y),
				"pending", predictor.PendingCount(),
				"reconcile_err", predictor.LastError(),
				"remote_entities", len(samples),
			)

		case <-deadline:
			log.Info("duration elapsed")
			return
		case <-quit:
			log.Info("signal received")
			return
		}
	}
}

// randomWaypoint picks a uniform point on the outer half of the arena.
func randomWaypoint() (float64, float64) {
	theta := rand.Float64() * 2 * math.Pi
	d := 800 + rand.Float64()*1100
	return d * math.Cos(theta), d * math.Sin(theta)
}
