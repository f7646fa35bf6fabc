package main

import (
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/robotalks/devlink/pkg/env"
	"github.com/robotalks/devlink/pkg/link"
)

// connectAtStart connects devices listed as channel=device pairs.
func connectAtStart(conf *env.Config, stack *env.Stack, list string) error {
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item == "" {
			continue
		}
		pos := strings.Index(item, "=")
		if pos < 0 {
			return fmt.Errorf("expect channel=device: %q", item)
		}
		ch, ok := link.ParseChannel(item[:pos])
		if !ok {
			return fmt.Errorf("unknown channel in %q", item)
		}
		l := stack.Find(ch)
		if l == nil {
			return fmt.Errorf("channel %s not enabled", ch)
		}
		d, err := conf.ParseDescriptor(ch, item[pos+1:])
		if err != nil {
			return err
		}
		glog.Infof("connect %s %s", ch, d)
		l.Session.Connect(d)
	}
	return nil
}
