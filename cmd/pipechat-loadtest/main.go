// Command pipechat-loadtest drives a pipechat server with many concurrent
// chat clients and reports throughput and latency.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pipechat/pipechat/pkg/client"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat."

var loremWords = strings.Fields(loremIpsum)

type stats struct {
	sent       atomic.Int64
	received   atomic.Int64
	errors     atomic.Int64
	latencyNs  atomic.Int64 // sum of broadcast round-trip latencies
	latencyCnt atomic.Int64
}

func main() {
	addr := flag.String("addr", "localhost:7420", "server address")
	clients := flag.Int("clients", 50, "number of concurrent clients")
	rate := flag.Duration("rate", 2*time.Second, "delay between messages per client")
	duration := flag.Duration("duration", 60*time.Second, "test duration")
	flag.Parse()

	log.Printf("Starting load test: %d clients against %s for %v", *clients, *addr, *duration)

	var st stats
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runClient(id, *addr, *rate, stop, &st)
		}(i)
		// Stagger connections so the accept queue is not slammed at once
		time.Sleep(10 * time.Millisecond)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	deadline := time.After(*duration)

loop:
	for {
		select {
		case <-ticker.C:
			printStats(&st)
		case <-deadline:
			break loop
		case <-sigCh:
			log.Println("Interrupted")
			break loop
		}
	}

	close(stop)
	wg.Wait()
	fmt.Println("--- final ---")
	printStats(&st)
}

func printStats(st *stats) {
	sent, recv, errs := st.sent.Load(), st.received.Load(), st.errors.Load()
	var avgLatency time.Duration
	if n := st.latencyCnt.Load(); n > 0 {
		avgLatency = time.Duration(st.latencyNs.Load() / n)
	}
	log.Printf("sent=%d received=%d errors=%d avg_latency=%v", sent, recv, errs, avgLatency)
}

// runClient registers a throwaway account and alternates between sending a
// broadcast message and draining incoming lines until stopped. Latency is
// measured from send to receipt of the client's own echo.
func runClient(id int, addr string, rate time.Duration, stop <-chan struct{}, st *stats) {
	c, err := client.Dial(addr)
	if err != nil {
		st.errors.Add(1)
		return
	}
	defer c.Close()

	username := fmt.Sprintf("loadtest_%d_%d", os.Getpid(), id)
	if err := c.Register(username, "loadtest1A"); err != nil {
		st.errors.Add(1)
		return
	}

	for {
		select {
		case <-stop:
			return
		case <-time.After(rate):
		}

		text := randomSentence()
		sentAt := time.Now()
		if err := c.Send("MSG|all|" + text); err != nil {
			st.errors.Add(1)
			return
		}
		st.sent.Add(1)

		// Drain until we see our own echo; count everything we read.
		for {
			line, err := c.RecvLine(10 * time.Second)
			if err != nil {
				st.errors.Add(1)
				return
			}
			st.received.Add(1)
			if strings.HasPrefix(line, "MSG|") && strings.Contains(line, "|"+username+"|all|") {
				st.latencyNs.Add(time.Since(sentAt).Nanoseconds())
				st.latencyCnt.Add(1)
				break
			}
		}
	}
}

func randomSentence() string {
	n := 3 + rand.Intn(10)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}
