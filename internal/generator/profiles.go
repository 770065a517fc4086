package generator

import (
	"fmt"
	"math/rand"
	"sort"
	"time"
)

// Event is one wire record as the generator emits it.
type Event map[string]any

const (
	classMalicious = "malicious"
	classBenign    = "benign"
	sourceHost     = "172.20.0.2"
)

// Profile describes one stream of synthetic traffic. Each run of the profile
// emits a burst of events spaced by Spacing, then pauses.
type Profile struct {
	Name    string
	Class   string
	Burst   [2]int
	Spacing [2]time.Duration
	Pause   [2]time.Duration

	// newBurst returns the event builder for one burst. dest is the value
	// written to dest_ip.
	newBurst func(rng *rand.Rand, dest string) func(i int, now time.Time) Event
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func between(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}

func betweenDur(rng *rand.Rand, r [2]time.Duration) time.Duration {
	if r[1] <= r[0] {
		return r[0]
	}
	return r[0] + time.Duration(rng.Int63n(int64(r[1]-r[0])))
}

var profiles = map[string]Profile{
	"beaconing": {
		Name: "beaconing", Class: classMalicious,
		Burst: [2]int{1, 1}, Pause: [2]time.Duration{10 * time.Second, 30 * time.Second},
		newBurst: func(rng *rand.Rand, dest string) func(int, time.Time) Event {
			return func(_ int, now time.Time) Event {
				return Event{
					"timestamp": epoch(now), "malware_type": "beaconing",
					"source_ip": sourceHost, "dest_ip": dest,
					"source_port": between(rng, 40000, 65000), "dest_port": 5000,
					"protocol": "TCP", "packet_size": between(rng, 200, 500),
					"payload":       map[string]any{"bot_id": between(rng, 1000, 9999), "status": "online"},
					"traffic_class": classMalicious, "attack_type": "botnet_c2",
				}
			}
		},
	},
	"http_flood": {
		Name: "http_flood", Class: classMalicious,
		Burst: [2]int{20, 50}, Spacing: [2]time.Duration{100 * time.Millisecond, 100 * time.Millisecond},
		Pause: [2]time.Duration{30 * time.Second, 60 * time.Second},
		newBurst: func(rng *rand.Rand, dest string) func(int, time.Time) Event {
			return func(_ int, now time.Time) Event {
				return Event{
					"timestamp": epoch(now), "malware_type": "http_flood",
					"source_ip": sourceHost, "dest_ip": dest,
					"source_port": between(rng, 40000, 65000), "dest_port": 80,
					"protocol": "TCP", "packet_size": between(rng, 100, 300),
					"payload":       map[string]any{"method": "GET", "path": fmt.Sprintf("/?%d", between(rng, 1000, 9999))},
					"traffic_class": classMalicious, "attack_type": "ddos_http",
				}
			}
		},
	},
	"bruteforce": {
		Name: "bruteforce", Class: classMalicious,
		Burst: [2]int{10, 30}, Spacing: [2]time.Duration{500 * time.Millisecond, 2 * time.Second},
		Pause: [2]time.Duration{40 * time.Second, 80 * time.Second},
		newBurst: func(rng *rand.Rand, dest string) func(int, time.Time) Event {
			services := []struct {
				name string
				port int
			}{{"ssh_bruteforce", 22}, {"ftp_bruteforce", 21}, {"http_bruteforce", 5000}}
			svc := services[rng.Intn(len(services))]
			users := []string{"admin", "root", "user", "test"}
			return func(i int, now time.Time) Event {
				return Event{
					"timestamp": epoch(now), "malware_type": svc.name,
					"source_ip": sourceHost, "dest_ip": dest,
					"source_port": between(rng, 40000, 65000), "dest_port": svc.port,
					"protocol": "TCP", "packet_size": between(rng, 100, 400),
					"payload": map[string]any{
						"username": users[rng.Intn(len(users))],
						"password": fmt.Sprintf("pass%d", between(rng, 1000, 9999)),
						"attempt":  i,
					},
					"traffic_class": classMalicious, "attack_type": "brute_force",
				}
			}
		},
	},
	"syn_flood": {
		Name: "syn_flood", Class: classMalicious,
		Burst: [2]int{50, 100}, Spacing: [2]time.Duration{50 * time.Millisecond, 50 * time.Millisecond},
		Pause: [2]time.Duration{60 * time.Second, 120 * time.Second},
		newBurst: func(rng *rand.Rand, dest string) func(int, time.Time) Event {
			return func(_ int, now time.Time) Event {
				return Event{
					"timestamp": epoch(now), "malware_type": "syn_flood",
					"source_ip": fmt.Sprintf("172.20.0.%d", between(rng, 10, 250)), "dest_ip": dest,
					"source_port": between(rng, 1024, 65000), "dest_port": 80,
					"protocol": "TCP", "flags": "SYN", "packet_size": 54,
					"traffic_class": classMalicious, "attack_type": "ddos_syn",
				}
			}
		},
	},
	"udp_flood": {
		Name: "udp_flood", Class: classMalicious,
		Burst: [2]int{50, 100}, Spacing: [2]time.Duration{50 * time.Millisecond, 50 * time.Millisecond},
		Pause: [2]time.Duration{60 * time.Second, 120 * time.Second},
		newBurst: func(rng *rand.Rand, dest string) func(int, time.Time) Event {
			return func(_ int, now time.Time) Event {
				return Event{
					"timestamp": epoch(now), "malware_type": "udp_flood",
					"source_ip": fmt.Sprintf("172.20.0.%d", between(rng, 10, 250)), "dest_ip": dest,
					"source_port": between(rng, 1024, 65000), "dest_port": between(rng, 1024, 65000),
					"protocol": "UDP", "packet_size": between(rng, 512, 1024),
					"traffic_class": classMalicious, "attack_type": "ddos_udp",
				}
			}
		},
	},
	"web": {
		Name: "web", Class: classBenign,
		Burst: [2]int{1, 1}, Pause: [2]time.Duration{5 * time.Second, 15 * time.Second},
		newBurst: func(rng *rand.Rand, dest string) func(int, time.Time) Event {
			paths := []string{"/", "/about", "/contact", "/products", "/api/data"}
			return func(_ int, now time.Time) Event {
				return Event{
					"timestamp": epoch(now), "malware_type": "normal_http",
					"source_ip": sourceHost, "dest_ip": dest,
					"source_port": between(rng, 40000, 65000), "dest_port": 80,
					"protocol": "TCP", "packet_size": between(rng, 300, 1500),
					"payload":       map[string]any{"method": "GET", "path": paths[rng.Intn(len(paths))], "user_agent": "Mozilla/5.0"},
					"traffic_class": classBenign, "attack_type": nil,
				}
			}
		},
	},
	"dns": {
		Name: "dns", Class: classBenign,
		Burst: [2]int{1, 1}, Pause: [2]time.Duration{10 * time.Second, 30 * time.Second},
		newBurst: func(rng *rand.Rand, dest string) func(int, time.Time) Event {
			queries := []string{"www.example.com", "api.service.com", "cdn.assets.com", "mail.company.com"}
			return func(_ int, now time.Time) Event {
				return Event{
					"timestamp": epoch(now), "malware_type": "normal_dns",
					"source_ip": sourceHost, "dest_ip": dest,
					"source_port": between(rng, 40000, 65000), "dest_port": 53,
					"protocol": "UDP", "packet_size": between(rng, 60, 120),
					"payload":       map[string]any{"query": queries[rng.Intn(len(queries))]},
					"traffic_class": classBenign, "attack_type": nil,
				}
			}
		},
	},
	"ssh": {
		Name: "ssh", Class: classBenign,
		Burst: [2]int{1, 1}, Pause: [2]time.Duration{120 * time.Second, 300 * time.Second},
		newBurst: func(rng *rand.Rand, dest string) func(int, time.Time) Event {
			return func(_ int, now time.Time) Event {
				return Event{
					"timestamp": epoch(now), "malware_type": "normal_ssh",
					"source_ip": sourceHost, "dest_ip": dest,
					"source_port": between(rng, 40000, 65000), "dest_port": 22,
					"protocol": "TCP", "packet_size": between(rng, 200, 800),
					"payload":       map[string]any{"auth": "success", "user": "admin"},
					"traffic_class": classBenign, "attack_type": nil,
				}
			}
		},
	},
	"ftp": {
		Name: "ftp", Class: classBenign,
		Burst: [2]int{1, 1}, Pause: [2]time.Duration{180 * time.Second, 400 * time.Second},
		newBurst: func(rng *rand.Rand, dest string) func(int, time.Time) Event {
			return func(_ int, now time.Time) Event {
				return Event{
					"timestamp": epoch(now), "malware_type": "normal_ftp",
					"source_ip": sourceHost, "dest_ip": dest,
					"source_port": between(rng, 40000, 65000), "dest_port": 21,
					"protocol": "TCP", "packet_size": between(rng, 500, 2000),
					"payload":       map[string]any{"command": "RETR", "file": "data.csv"},
					"traffic_class": classBenign, "attack_type": nil,
				}
			}
		},
	},
}

// ProfileNames lists the built-in profiles in a stable order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LookupProfile returns the named built-in profile.
func LookupProfile(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}
