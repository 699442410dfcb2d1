package cmd

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"strings"
	"sync"
	"time"

	adhoc "EmotionDetServer/Adhoc"
	"EmotionDetServer/app"
	"EmotionDetServer/config"
	"EmotionDetServer/emitter"
	backend "EmotionDetServer/gRPC"
	"EmotionDetServer/logger"
	"EmotionDetServer/monitor"
	"EmotionDetServer/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP, websocket, MJPEG and gRPC APIs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cmd.Flags().Changed("config"))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func GetOutboundIP() (string, error) {
	// 8.8.8.8 是 Google DNS，这里只是为了建立路由路径得到本地出口 IP
	// 实际并没有真正的物理连接，所以不需要联网也可以（只要有路由表）
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

func printBanner(cfg config.Config, ip string) {
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("Outbound IP:", ip)
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Printf("GoCV %s / OpenCV %s\n", gocv.Version(), gocv.OpenCVVersion())
	fmt.Println("  HTTP Port:", cfg.HTTPPort)
	fmt.Println("  gRPC Port:", cfg.RPCPort)
	fmt.Println("Monitor Port:", cfg.MonitorPort)
	fmt.Println("Asset server:", cfg.Assets.BaseURL)
	fmt.Println("Camera:", cfg.Capture.Device, "@", cfg.Capture.FPS, "fps")
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("")
}

func runServe(ctx context.Context, explicitConfig bool) error {
	cfg, err := loadConfig(rootOpts, explicitConfig)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Log()

	ip, err := GetOutboundIP()
	if err != nil {
		log.Warn("Failed to get outbound IP", zap.Error(err))
		ip = "127.0.0.1"
	}
	printBanner(cfg, ip)

	a := app.New(cfg, log)
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("release assets", zap.Error(err))
		}
	}()
	hub := server.NewFrameHub(log.Named("mjpeg"))
	a.Session.Sink = hub.Sink
	if err := monitor.RegisterPipeline(monitor.Registry, a.Stats); err != nil {
		return fmt.Errorf("register pipeline metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.StartMon(ctx, cfg.MonitorPort, log.Named("monitor"))
	}()

	fmt.Println("Starting gRPC Server")
	rpc := backend.NewServer(a, log.Named("grpc"))
	grpcServer, err := backend.StartGRPCServer(cfg.RPCPort, rpc)
	if err != nil {
		return err
	}
	defer backend.StopGRPCServer(grpcServer, 5*time.Second)

	httpErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		httpErr <- server.Run(ctx, cfg.HTTPPort, server.New(a, hub, log.Named("http")), log)
	}()

	if cfg.MQTT.Enabled {
		em := emitter.NewMQTTEmitter(cfg.MQTT, log.Named("mqtt"))
		if err := em.Connect(ctx); err != nil {
			log.Warn("MQTT disabled", zap.Error(err))
		} else {
			defer em.Disconnect()
			if err := monitor.RegisterEmitter(monitor.Registry, em.Stats); err != nil {
				log.Warn("register mqtt metrics", zap.Error(err))
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				em.Run(ctx, a.Machine)
			}()
		}
	}

	if cfg.RegServer.UseRegServer {
		hb := adhoc.NewHeartbeat(cfg.RegServer, ip, cfg.RPCPort, a.Machine, log.Named("adhoc"))
		wg.Add(1)
		go hb.SendAliveMessage(ctx, &wg)
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
	}

	go func() {
		if err := a.Initialize(ctx); err != nil {
			log.Error("asset initialization failed", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case <-rpc.CloseChannel:
	case err := <-httpErr:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}
	a.Stop()
	cancel()
	wg.Wait()
	fmt.Println("Safely exited")
	return nil
}
