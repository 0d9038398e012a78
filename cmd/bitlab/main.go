package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bitlab-net/bitlab/internal/codec"
	"github.com/bitlab-net/bitlab/internal/config"
	"github.com/bitlab-net/bitlab/internal/discovery"
	"github.com/bitlab-net/bitlab/internal/logger"
	"github.com/bitlab-net/bitlab/internal/manager"
	"github.com/bitlab-net/bitlab/internal/metrics"
	"github.com/bitlab-net/bitlab/internal/peerstore"
	"github.com/bitlab-net/bitlab/internal/session"
)

func main() {
	logger.Log.Info().Msg("=== BitLab P2P Client ===")

	cfg, err := config.Load("config.json")
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Log.Info().Str("network", string(cfg.Network)).Msg("config loaded")

	store := openStore(cfg)
	defer store.Close()

	metrics.StartMetricsServer(":9090")
	logger.Log.Info().Str("addr", ":9090").Msg("metrics server started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := manager.New(manager.Config{
		Magic:                cfg.Magic(),
		UserAgent:            cfg.UserAgent,
		HandshakeTimeout:     time.Duration(cfg.HandshakeTimeoutS) * time.Second,
		MaxFrameBytes:        cfg.MaxFrameBytes,
		AutoRequestInventory: false,
	})
	mgr.StartCleanupRoutine(ctx, time.Minute)

	mgr.OnInventory("tx", func(sess *session.PeerSession, v codec.InvVector) {
		logger.Log.Info().Str("peer", sess.RemoteAddr().String()).Msg("new tx announced")
	})
	mgr.OnInventory("block", func(sess *session.PeerSession, v codec.InvVector) {
		logger.Log.Info().Str("peer", sess.RemoteAddr().String()).Msg("new block announced")
	})
	mgr.OnAddr(func(sess *session.PeerSession, entry codec.AddrEntry) {
		logger.Log.Info().
			Str("peer", sess.RemoteAddr().String()).
			Str("addr", entry.Addr.IP.String()).
			Uint16("port", entry.Addr.Port).
			Msg("peer address announced")
	})

	resolver := discovery.NewResolver(cfg.DefaultPort())
	nodePool := discovery.NewNodePool()
	nodePool.StartPeriodicRefresh(ctx, 15*time.Minute, func(err error) {
		logger.Log.Warn().Err(err).Msg("node pool refresh failed")
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		for _, addr := range mgr.List() {
			mgr.Disconnect(addr)
		}
		os.Exit(0)
	}()

	runShell(ctx, mgr, store, resolver, nodePool)
}

func openStore(cfg config.Config) peerstore.Store {
	if cfg.DBHost == "" {
		logger.Log.Info().Msg("no db_host configured, using in-memory peer store")
		return peerstore.NewMemoryStore()
	}
	store, err := peerstore.Open(peerstore.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
	})
	if err != nil {
		logger.Log.Warn().Err(err).Msg("failed to connect to postgres, falling back to in-memory peer store")
		return peerstore.NewMemoryStore()
	}
	return store
}

// runShell drives a minimal line-oriented operator REPL: there is no
// ecosystem REPL library in the retrieved pack, so this external driver
// uses bufio directly, matching spec.md's treatment of the shell as an
// out-of-scope interactive surface.
func runShell(ctx context.Context, mgr *manager.SessionManager, store peerstore.Store, resolver *discovery.Resolver, pool *discovery.NodePool) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("bitlab> type 'help' for commands")

	for {
		fmt.Print("bitlab> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		switch cmd {
		case "help":
			printHelp()
		case "quit", "exit":
			return
		case "seeds":
			addrs := resolver.Lookup(ctx)
			for _, a := range addrs {
				fmt.Println(a)
			}
		case "discover":
			if err := pool.Refresh(ctx); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("regions with candidates:", strings.Join(pool.Regions(), ", "))
		case "regions":
			for _, region := range pool.Regions() {
				fmt.Println(region)
			}
		case "nextpeer":
			if len(args) != 1 {
				fmt.Println("usage: nextpeer region")
				continue
			}
			cand, ok := pool.Next(args[0])
			if !ok {
				fmt.Println("no candidate available for region", args[0])
				continue
			}
			sess, err := mgr.Connect(ctx, cand.Addr())
			if err != nil {
				pool.MarkFailed(cand.Addr())
				fmt.Println("error:", err)
				continue
			}
			if err := store.RecordConnection(cand.Addr(), sess.PeerVersion()); err != nil {
				logger.Log.Warn().Err(err).Msg("failed to record peer connection")
			}
			fmt.Printf("connected to %s (%s), peer user agent: %s\n", cand.Addr(), cand.CountryCode, sess.PeerVersion().UserAgent)
		case "connect":
			if len(args) != 1 {
				fmt.Println("usage: connect host:port")
				continue
			}
			sess, err := mgr.Connect(ctx, args[0])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if err := store.RecordConnection(args[0], sess.PeerVersion()); err != nil {
				logger.Log.Warn().Err(err).Msg("failed to record peer connection")
			}
			fmt.Printf("connected, peer user agent: %s\n", sess.PeerVersion().UserAgent)
		case "peers":
			for _, addr := range mgr.List() {
				fmt.Println(addr)
			}
		case "history":
			records, err := store.List()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, rec := range records {
				fmt.Printf("%s connections=%d user_agent=%s last_seen=%s\n",
					rec.Address, rec.ConnectionCount, rec.UserAgent, rec.LastSeenAt.Format(time.RFC3339))
			}
		case "version":
			if len(args) != 1 {
				fmt.Println("usage: version host:port")
				continue
			}
			sess, ok := mgr.Get(args[0])
			if !ok {
				fmt.Println("no such session")
				continue
			}
			v := sess.PeerVersion()
			fmt.Printf("version=%d services=%d user_agent=%s start_height=%d\n",
				v.Version, v.Services, v.UserAgent, v.StartHeight)
		case "getaddr":
			sendToOne(mgr, args, func(magic uint32) ([]byte, error) { return codec.GetAddr(magic) })
		case "ping":
			sendToOne(mgr, args, func(magic uint32) ([]byte, error) {
				frame, _, err := codec.Ping(magic)
				return frame, err
			})
		case "inv":
			if len(args) != 3 {
				fmt.Println("usage: inv host:port kind hash_hex")
				continue
			}
			kind, err := codec.InvKindFromName(args[1])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			sendToOne(mgr, args[:1], func(magic uint32) ([]byte, error) { return codec.Inv(magic, kind, args[2]) })
		case "getdata":
			if len(args) != 3 {
				fmt.Println("usage: getdata host:port kind hash_hex")
				continue
			}
			kind, err := codec.InvKindFromName(args[1])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			sendToOne(mgr, args[:1], func(magic uint32) ([]byte, error) { return codec.GetData(magic, kind, args[2]) })
		case "tx":
			if len(args) != 2 {
				fmt.Println("usage: tx host:port raw_hex")
				continue
			}
			sendToOne(mgr, args[:1], func(magic uint32) ([]byte, error) { return codec.Tx(magic, args[1]) })
		case "block":
			if len(args) != 2 {
				fmt.Println("usage: block host:port raw_hex")
				continue
			}
			sendToOne(mgr, args[:1], func(magic uint32) ([]byte, error) { return codec.Block(magic, args[1]) })
		case "getblocks":
			if len(args) < 1 {
				fmt.Println("usage: getblocks host:port [locator_hash...]")
				continue
			}
			locators := args[1:]
			sendToOne(mgr, args[:1], func(magic uint32) ([]byte, error) { return codec.GetBlocks(magic, locators, "") })
		case "getheaders":
			if len(args) < 1 {
				fmt.Println("usage: getheaders host:port [locator_hash...]")
				continue
			}
			locators := args[1:]
			sendToOne(mgr, args[:1], func(magic uint32) ([]byte, error) { return codec.GetHeaders(magic, locators, "") })
		case "alert":
			if len(args) < 2 {
				fmt.Println("usage: alert host:port text...")
				continue
			}
			text := strings.Join(args[1:], " ")
			sendToOne(mgr, args[:1], func(magic uint32) ([]byte, error) { return codec.Alert(magic, text) })
		case "message":
			if len(args) < 2 {
				fmt.Println("usage: message host:port text...")
				continue
			}
			text := strings.Join(args[1:], " ")
			sendToOne(mgr, args[:1], func(magic uint32) ([]byte, error) { return codec.Message(magic, text) })
		case "reject":
			if len(args) < 3 {
				fmt.Println("usage: reject host:port command reason [code]")
				continue
			}
			code := codec.DefaultRejectCode
			if len(args) >= 4 {
				if n, err := strconv.Atoi(args[3]); err == nil {
					code = byte(n)
				}
			}
			command, reason := args[1], args[2]
			sendToOne(mgr, args[:1], func(magic uint32) ([]byte, error) { return codec.Reject(magic, command, reason, code) })
		case "disconnect":
			if len(args) != 1 {
				fmt.Println("usage: disconnect host:port")
				continue
			}
			if err := mgr.Disconnect(args[0]); err != nil {
				fmt.Println("error:", err)
			}
		default:
			fmt.Printf("unknown command %q, type 'help'\n", cmd)
		}
	}
}

func sendToOne(mgr *manager.SessionManager, args []string, build func(magic uint32) ([]byte, error)) {
	if len(args) != 1 {
		fmt.Println("usage: <cmd> host:port ...")
		return
	}
	if err := mgr.SendTo(args[0], build); err != nil {
		fmt.Println("error:", err)
	}
}

func printHelp() {
	fmt.Println(`commands:
  connect host:port
  peers
  version host:port
  getaddr host:port
  ping host:port
  inv host:port tx|block|filtered_block|cmpct_block hash_hex
  getdata host:port tx|block|filtered_block|cmpct_block hash_hex
  tx host:port raw_hex
  block host:port raw_hex
  getblocks host:port [locator_hash...]
  getheaders host:port [locator_hash...]
  alert host:port text...
  message host:port text...
  reject host:port command reason [code]
  disconnect host:port
  history
  seeds
  discover
  regions
  nextpeer region
  quit`)
}
