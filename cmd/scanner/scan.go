package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/mlsorensen/goremote"
	"github.com/mlsorensen/goremote/pkg/discovery/bluez"
)

func main() {
	scanDuration := flag.Duration("duration", 15*time.Second, "how long to scan")
	mode := flag.String("mode", "bluez", "bluez (classic, Linux) or ble")
	flag.Parse()

	log.Println("--- GoRemote Scanner ---")
	log.Printf("Starting %s scan for %s...", *mode, *scanDuration)
	log.Println("Turn on your device now.")

	var (
		devices []goremote.Device
		err     error
	)
	if *mode == "ble" {
		devices, err = goremote.Scan(*scanDuration)
	} else {
		devices, err = collect(bluez.Discoverer{}, *scanDuration)
	}
	if err != nil {
		log.Fatalf("Fatal: Scan failed: %v", err)
	}

	// --- Print the results ---
	if len(devices) == 0 {
		log.Println("\nScan complete. No devices found.")
		log.Println("Tip: Make sure your device is on and discoverable.")
		return
	}
	fmt.Println("\n--- Found Devices ---")
	for i, device := range devices {
		fmt.Printf("%d: Name:    %s\n", i+1, device.Name)
		fmt.Printf("   Address: %s\n", device.Address)
		fmt.Printf("   RSSI:    %d\n\n", device.RSSI)
	}
	fmt.Println("---------------------")
}

func collect(d goremote.Discoverer, duration time.Duration) ([]goremote.Device, error) {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	stream, err := d.Discover(ctx)
	if err != nil {
		return nil, err
	}
	var devices []goremote.Device
	for device := range stream {
		log.Printf("    --> Found device: %s", device)
		devices = append(devices, device)
	}
	return devices, nil
}
