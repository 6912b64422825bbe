package main

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

func newClient() *resty.Client {
	return resty.New().SetTimeout(10 * time.Second)
}

func doGet(url string) ([]byte, error) {
	resp, err := newClient().R().Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET %s: %s: %s", url, resp.Status(), resp.String())
	}
	return resp.Body(), nil
}
