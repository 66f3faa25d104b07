package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadInstanceDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "instance.env", "INSTANCE_ID=test1\nMAX_CONNECTIONS=5\n")

	inst, err := LoadInstance(dir)
	if err != nil {
		t.Fatal(err)
	}
	if inst.ID != "test1" {
		t.Fatalf("got id %q", inst.ID)
	}
	if inst.MaxConnections != 5 {
		t.Fatalf("got max connections %d, want 5", inst.MaxConnections)
	}
	if inst.MinConnections != 1 {
		t.Fatalf("got min connections %d, want default 1", inst.MinConnections)
	}
}

func TestLoadConnectionsSortedAndParsed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "conn.a.env", "DRIVER=mysql\nHOST=db1\nPORT=3306\nUSR=u\nPASS=p\nDB=d1\n")
	writeFile(t, dir, "conn.b.env", "DRIVER=stub\nHOST=db2\n")

	conns, err := LoadConnections(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 2 {
		t.Fatalf("got %d connections, want 2", len(conns))
	}
	if conns[0].Name != "a" || conns[0].Driver != "mysql" {
		t.Fatalf("got %+v", conns[0])
	}
	if conns[0].Params["host"] != "db1" || conns[0].Params["database"] != "d1" {
		t.Fatalf("got params %+v", conns[0].Params)
	}
	if conns[1].Name != "b" || conns[1].Driver != "stub" {
		t.Fatalf("got %+v", conns[1])
	}
}
