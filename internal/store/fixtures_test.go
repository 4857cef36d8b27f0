package store_test

import "github.com/ajitpratap0/floatfeed/pkg/datum"

var testShape = datum.Shape{Channels: 1, Height: 2, Width: 2}
