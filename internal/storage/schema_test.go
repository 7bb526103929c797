package storage

import (
	"strings"
	"testing"
)

func TestSchemaDDLUsesConfiguredVectorDim(t *testing.T) {
	ddl := schemaDDL(24)
	if !strings.Contains(ddl, "scene_vector vector(24)") {
		t.Fatal("scene_vector dimension not taken from the configured latent size")
	}
	if strings.Contains(ddl, "%") {
		t.Fatalf("unexpanded format verb left in DDL")
	}
}
