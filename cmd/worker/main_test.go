package main

import (
	"testing"

	_ "github.com/arvalox/arvalox/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	main()
}
