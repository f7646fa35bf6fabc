package main

import (
	"context"
	"flag"
	"log"

	"github.com/golang/glog"

	"github.com/robotalks/devlink/pkg/bridge/mqtt"
	"github.com/robotalks/devlink/pkg/bridge/websocket"
	"github.com/robotalks/devlink/pkg/env"
	"github.com/robotalks/devlink/pkg/framework"
)

var connectTo string

func init() {
	env.SetupFlags()
	flag.StringVar(&connectTo, "connect", connectTo, "Devices to connect at start, e.g. usb=/dev/ttyUSB0,bluetooth=00:11:22:33:44:55.")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := env.NewConfig()
	stack := conf.MustNewStack()
	defer stack.Shutdown()

	runner := framework.NewRunner().HandleSignals()
	for _, l := range stack.Links {
		runner.Go(framework.NamedRun("scan-"+l.Channel().String(), framework.RunStarter(l.Scanner)))
	}

	if q := conf.MustNewQueue(); q != nil {
		ctx, cancel := context.WithTimeout(runner.Context, conf.ReconnectDelay)
		err := q.Connect(ctx)
		cancel()
		if err != nil {
			log.Fatalf("MQTT %s: %v", conf.MQTTURL, err)
		}
		defer q.Close()
		host := conf.HostID()
		glog.Infof("MQTT bridge for host %s", host)
		for _, l := range stack.Links {
			runner.Go(mqtt.NewBridge(q, host, l.Session, l.Scanner))
		}
	}

	if conf.Listen != "" {
		feed := websocket.NewFeed()
		for _, l := range stack.Links {
			feed.Watch(l.Session)
			feed.WatchScanner(l.Scanner)
		}
		runner.Go(&websocket.Server{Addr: conf.Listen, Feed: feed})
	}

	if err := connectAtStart(conf, stack, connectTo); err != nil {
		log.Fatalln(err)
	}

	if err := runner.Wait(); err != nil {
		glog.Errorf("stopped: %v", err)
	}
}
