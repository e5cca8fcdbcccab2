// Package main provides a Davis VantagePro console emulator for bench
// testing safetyd without hardware: it speaks the wakeup, TEST and
// LOOP exchanges over TCP (point a davis station's host/port at it) or
// over a pty created with socat.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/obswx/safetyd/internal/station"
)

type weather struct {
	barometerInHg float64
	insideTempF   float64
	outsideTempF  float64
	insideHum     int
	outsideHum    int
	windMph       int
	windDir       int
	rainRate      int
	uv            int
	solar         int
}

func main() {
	listen := flag.String("listen", ":22222", "TCP listen address")
	device := flag.String("device", "", "Serve a device node (e.g. a socat pty) instead of TCP")

	w := weather{}
	flag.Float64Var(&w.barometerInHg, "barometer", 29.921, "Barometer (inHg)")
	flag.Float64Var(&w.insideTempF, "inside-temp", 72.2, "Inside temperature (F)")
	flag.Float64Var(&w.outsideTempF, "outside-temp", 55.0, "Outside temperature (F)")
	flag.IntVar(&w.insideHum, "inside-humidity", 40, "Inside humidity (%)")
	flag.IntVar(&w.outsideHum, "outside-humidity", 80, "Outside humidity (%)")
	flag.IntVar(&w.windMph, "wind", 10, "Wind speed (mph)")
	flag.IntVar(&w.windDir, "wind-dir", 270, "Wind direction (degrees)")
	flag.IntVar(&w.rainRate, "rain-rate", 0, "Rain rate (0.01 in/h units)")
	flag.IntVar(&w.uv, "uv", 3, "UV index")
	flag.IntVar(&w.solar, "solar", 512, "Solar radiation (W/m2)")
	flag.Parse()

	if *device != "" {
		f, err := os.OpenFile(*device, os.O_RDWR, 0)
		if err != nil {
			log.Fatalf("opening %s: %v", *device, err)
		}
		log.Printf("emulating a console on %s", *device)
		serve(f, w)
		return
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatalf("listening on %s: %v", *listen, err)
	}
	log.Printf("emulating a console on %s", *listen)

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
		ln.Close()
		os.Exit(0)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		log.Printf("connection from %s", conn.RemoteAddr())
		go func() {
			defer conn.Close()
			serve(conn, w)
		}()
	}
}

// serve answers the console protocol on one connection until EOF.
func serve(rw io.ReadWriter, w weather) {
	buf := make([]byte, 64)
	var pending []byte

	for {
		n, err := rw.Read(buf)
		if err != nil {
			return
		}
		pending = append(pending, buf[:n]...)

		for {
			idx := bytes.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}
			line := string(pending[:idx])
			pending = pending[idx+1:]
			handle(rw, line, w)
		}
	}
}

func handle(rw io.Writer, line string, w weather) {
	switch line {
	case "": // bare newline: wakeup
		rw.Write([]byte{0x0a, 0x0d})
	case "TEST":
		rw.Write([]byte("\n\rTEST\n"))
	case "LOOP 1":
		rw.Write([]byte{0x06})
		rw.Write(frame(w))
	default:
		fmt.Fprintf(os.Stderr, "unhandled command %q\n", line)
	}
}

func frame(w weather) []byte {
	return station.BuildLoopFrame(
		uint16(w.barometerInHg*1000),
		int16(w.insideTempF*10),
		int16(w.outsideTempF*10),
		byte(w.insideHum),
		byte(w.windMph),
		uint16(w.windDir),
		byte(w.outsideHum),
		byte(w.rainRate),
		byte(w.uv),
		uint16(w.solar),
	)
}
