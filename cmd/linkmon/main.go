package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/robotalks/devlink/pkg/bridge/mqtt"
	"github.com/robotalks/devlink/pkg/link"
)

var (
	mqttURL = "mqtt://localhost:1883/devlink/"
)

func init() {
	if val := os.Getenv("DEVLINK_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL, "")
	if err != nil {
		log.Fatalln(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = q.Connect(ctx)
	cancel()
	if err != nil {
		log.Fatalln(err)
	}

	if _, err := q.Subscribe("#", mqtt.Handler(func(topic string, payload []byte) {
		log.Printf("%s: %s", topic, format(topic, payload))
	})); err != nil {
		log.Fatalln(err)
	}
	<-(chan struct{})(nil)
}

func format(topic string, payload []byte) string {
	name := topic
	if pos := strings.LastIndex(topic, "/"); pos >= 0 {
		name = topic[pos+1:]
	}
	switch name {
	case mqtt.TopicReceived, mqtt.TopicSent, mqtt.TopicDropped:
		env, err := link.Decode(payload)
		if err != nil {
			return "bad message: " + err.Error()
		}
		msg := mqtt.KindOfCode(env.Code).Name + " [" + link.HexString(env.Message.Payload) + "]"
		if !env.Valid {
			msg += " (checksum mismatch)"
		}
		return msg
	case mqtt.TopicSend:
		if len(payload) == 0 {
			return "empty"
		}
		return mqtt.KindOfCode(payload[0]).Name + " [" + link.HexString(payload[1:]) + "]"
	}
	return string(payload)
}
