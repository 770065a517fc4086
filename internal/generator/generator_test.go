package generator

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/model"
	"Go2NetLogger/internal/retry"
	"Go2NetLogger/pkg/pcap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(target string) config.GeneratorConfig {
	return config.GeneratorConfig{
		TargetAddr:     target,
		Mode:           ModeSynth,
		RateMultiplier: 1,
		FlowTimeout:    "10s",
		ReplayLabel:    "background",
		ReplayTag:      "pcap_replay",
		DialTimeout:    "200ms",
		Retry:          config.RetryConfig{MaxAttempts: 2, InitialBackoff: "1ms", MaxBackoff: "2ms"},
	}
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestProfiles_ProduceCoercibleRecords(t *testing.T) {
	want := map[string]struct{ class, tag string }{
		"beaconing":  {"malicious", "botnet_c2"},
		"http_flood": {"malicious", "ddos_http"},
		"bruteforce": {"malicious", "brute_force"},
		"syn_flood":  {"malicious", "ddos_syn"},
		"udp_flood":  {"malicious", "ddos_udp"},
		"web":        {"benign", "normal_http"},
		"dns":        {"benign", "normal_dns"},
		"ssh":        {"benign", "normal_ssh"},
		"ftp":        {"benign", "normal_ftp"},
	}
	require.ElementsMatch(t, keys(want), ProfileNames())

	s := model.NewSanitizer()
	rng := rand.New(rand.NewSource(1))
	for _, name := range ProfileNames() {
		t.Run(name, func(t *testing.T) {
			p, ok := LookupProfile(name)
			require.True(t, ok)
			ev := p.newBurst(rng, "consumer")(0, time.Unix(1700000000, 0))

			line, err := json.Marshal(ev)
			require.NoError(t, err)
			rec, err := s.ParseLine(line)
			require.NoError(t, err)

			assert.Equal(t, want[name].class, rec.ClassLabel)
			assert.Equal(t, want[name].tag, rec.Tag)
			assert.Equal(t, "172.20.0", rec.SourceAddress[:8])
			assert.NotZero(t, rec.DestPort)
			assert.NotZero(t, rec.ByteCount)
			assert.True(t, rec.ObservedAt.Equal(time.Unix(1700000000, 0)))
		})
	}
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	cfg := testConfig("127.0.0.1:1")
	cfg.Profiles = []config.ProfileDef{{Name: "nope", Enabled: true}}
	_, err := New(cfg)
	assert.ErrorContains(t, err, "unknown traffic profile")

	cfg = testConfig("127.0.0.1:1")
	cfg.Profiles = []config.ProfileDef{{Name: "dns", Enabled: false}}
	_, err = New(cfg)
	assert.ErrorContains(t, err, "no traffic profile enabled")

	cfg = testConfig("127.0.0.1:1")
	cfg.Mode = ModeReplay
	_, err = New(cfg)
	assert.ErrorContains(t, err, "pcap_file")

	cfg = testConfig("no-port")
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = testConfig("127.0.0.1:1")
	cfg.Mode = "carrier-pigeon"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestGenerator_SynthStreamsLines(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(ln.Addr().String())
	cfg.Profiles = []config.ProfileDef{{Name: "syn_flood", Enabled: true, Weight: 1}}
	g, err := New(cfg)
	require.NoError(t, err)
	g.sleep = noSleep

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	s := model.NewSanitizer()
	sc := bufio.NewScanner(conn)
	for i := 0; i < 10; i++ {
		require.True(t, sc.Scan(), "line %d", i)
		rec, err := s.ParseLine(sc.Bytes())
		require.NoError(t, err)
		assert.Equal(t, "ddos_syn", rec.Tag)
		assert.Equal(t, "SYN", rec.Flags)
	}
	go io.Copy(io.Discard, conn)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("generator did not stop")
	}
	assert.GreaterOrEqual(t, g.Sent(), uint64(10))
}

func TestSender_GivesUpOnDeadTarget(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := ln.Addr().String()
	ln.Close()

	p, err := retry.NewPolicy(config.RetryConfig{MaxAttempts: 2, InitialBackoff: "1ms", MaxBackoff: "1ms"})
	require.NoError(t, err)
	s := NewSender(dead, 100*time.Millisecond, p)
	err = s.Send(context.Background(), Event{"a": 1})
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Zero(t, s.Sent())
}

func writeCapture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w, err := pcap.NewWriter(f)
	require.NoError(t, err)

	base := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	web := pcap.FiveTuple{SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 9), SrcPort: 41000, DstPort: 80, Protocol: 6}
	dns := pcap.FiveTuple{SrcIP: net.IPv4(10, 0, 0, 2), DstIP: net.IPv4(10, 0, 0, 53), SrcPort: 5353, DstPort: 53, Protocol: 17}
	for _, s := range []pcap.PacketSpec{
		{Timestamp: base, FiveTuple: web, TCPFlags: pcap.FlagSYN},
		{Timestamp: base.Add(100 * time.Millisecond), FiveTuple: dns, Payload: 20},
		{Timestamp: base.Add(200 * time.Millisecond), FiveTuple: web, TCPFlags: pcap.FlagACK | pcap.FlagPSH, Payload: 100},
		{Timestamp: base.Add(500 * time.Millisecond), FiveTuple: web, TCPFlags: pcap.FlagFIN | pcap.FlagACK},
		// Far enough ahead to expire both flows before the end of the file.
		{Timestamp: base.Add(30 * time.Second), FiveTuple: dns, Payload: 20},
	} {
		require.NoError(t, w.WritePacket(s))
	}
	return path
}

func TestReplayer_FoldsPacketsIntoFlows(t *testing.T) {
	r := NewReplayer(writeCapture(t), 0, 10*time.Second, "background", "pcap_replay")

	var got []model.EventRecord
	n, err := r.Run(context.Background(), func(rec model.EventRecord) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, got, 3)

	web, dns1, dns2 := got[0], got[1], got[2]
	assert.Equal(t, model.ProtocolTCP, web.Protocol)
	assert.Equal(t, int64(3), web.PacketCount)
	assert.Equal(t, ".AP.SF", web.Flags)
	assert.InDelta(t, 0.5, web.Duration, 1e-9)
	assert.Equal(t, "10.0.0.1", web.SourceAddress)
	assert.Equal(t, "pcap_replay", web.Tag)

	assert.Equal(t, model.ProtocolUDP, dns1.Protocol)
	assert.Equal(t, "-", dns1.Flags)
	assert.Equal(t, int64(1), dns1.PacketCount)
	assert.Equal(t, int64(1), dns2.PacketCount)
	assert.True(t, dns2.ObservedAt.After(dns1.ObservedAt))
}

func TestReplayer_PacesByCaptureTime(t *testing.T) {
	r := NewReplayer(writeCapture(t), 2, 0, "background", "pcap_replay")
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	n, err := r.Run(context.Background(), func(model.EventRecord) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, n, "without a flow timeout flows only end with the file")
	assert.Equal(t, []time.Duration{
		50 * time.Millisecond,
		50 * time.Millisecond,
		150 * time.Millisecond,
		maxReplayGap,
	}, slept)
}
