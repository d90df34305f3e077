package scavenge_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestScavenge(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "scavenge suite")
}
