// canids-probe bridges a local SocketCAN interface to a NATS subject:
// "pub" mode reads frames off the bus and publishes them; "sub" mode
// subscribes and prints them, for debugging a remote detection core's
// input. Grounded on the teacher's cmd/ns-probe pub/sub CLI shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/navispectra/canids/internal/source/natsframe"
	"github.com/navispectra/canids/internal/source/socketcan"
)

func main() {
	mode := flag.String("mode", "pub", "operating mode: 'pub' to capture and publish, 'sub' to subscribe and print")
	iface := flag.String("iface", "can0", "SocketCAN interface to capture from (pub mode)")
	natsURL := flag.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	natsSubject := flag.String("nats-subject", "canids.frames", "NATS subject")
	flag.Parse()

	switch *mode {
	case "pub":
		runProbe(*iface, *natsURL, *natsSubject)
	case "sub":
		runSubscriber(*natsURL, *natsSubject)
	default:
		fmt.Fprintf(os.Stderr, "invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

func runProbe(iface, natsURL, natsSubject string) {
	src, err := socketcan.New(iface)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening %s: %v\n", iface, err)
		os.Exit(1)
	}
	defer src.Close()

	pub, err := natsframe.NewPublisher(natsURL, natsSubject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connecting to nats: %v\n", err)
		os.Exit(1)
	}
	defer pub.Close()

	fmt.Printf("publishing frames from %s to %s (subject %s)\n", iface, natsURL, natsSubject)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	published := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("shutting down, %d frames published\n", published)
			return
		default:
		}

		frame, ok, err := src.Next(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading frame: %v\n", err)
			continue
		}
		if !ok {
			continue
		}
		if err := pub.Publish(frame); err != nil {
			fmt.Fprintf(os.Stderr, "publishing frame: %v\n", err)
			continue
		}
		published++
		if published%1000 == 0 {
			fmt.Printf("%d frames published\n", published)
		}
	}
}

func runSubscriber(natsURL, natsSubject string) {
	sub, err := natsframe.New(natsURL, natsSubject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "subscribing to nats: %v\n", err)
		os.Exit(1)
	}
	defer sub.Close()

	fmt.Printf("subscribed to %s on %s, printing frames\n", natsSubject, natsURL)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	for {
		frame, ok, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "receiving frame: %v\n", err)
			continue
		}
		if !ok {
			continue
		}
		fmt.Printf("%.6f %s dlc=%d payload=%x\n", frame.Timestamp, frame.IDHex(), frame.DLC, frame.Payload)
	}
}
