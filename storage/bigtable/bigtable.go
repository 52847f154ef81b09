// Package bigtable adds Google Cloud Bigtable as a block cache store.  Each key is a row
// holding the value in a single cell.
package bigtable

import (
	"context"
	"fmt"

	"github.com/janelia-flyem/labelset/dvid"
	"github.com/janelia-flyem/labelset/storage"

	api "cloud.google.com/go/bigtable"
	"github.com/blang/semver"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	familyName = "blocks"
	columnName = "v"
)

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		dvid.Errorf("Unable to make semver in bigtable: %v\n", err)
	}
	e := Engine{"bigtable", "Google's Cloud BigTable", ver}
	storage.RegisterEngine(e)
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// NewStore returns a BigTable store.
// The passed Config must contain:
// "project" string  ex: "janelia-flyem-project"
// "instance" string ex: "labelset-instance"
// "table" string ex: "level1"
// and optionally "emulator" giving the address of a local emulator.
// The instance can't be created from this API, see
// https://cloud.google.com/bigtable/docs/creating-instance
func (e Engine) NewStore(config dvid.StoreConfig) (storage.Store, error) {
	return Open(context.Background(), config)
}

// BigTable is a storage.Store using one Bigtable table.
type BigTable struct {
	project  string
	instance string
	table    string
	emulator string

	client *api.Client
	tbl    *api.Table
}

func parseConfig(config dvid.StoreConfig) (*BigTable, error) {
	bt := new(BigTable)
	for _, setting := range []struct {
		name     string
		dest     *string
		required bool
	}{
		{"project", &bt.project, true},
		{"instance", &bt.instance, true},
		{"table", &bt.table, true},
		{"emulator", &bt.emulator, false},
	} {
		v, found, err := config.GetString(setting.name)
		if err != nil {
			return nil, err
		}
		if !found && setting.required {
			return nil, fmt.Errorf("%q must be specified for BigTable configuration", setting.name)
		}
		*setting.dest = v
	}
	return bt, nil
}

func (bt *BigTable) clientOptions() ([]option.ClientOption, error) {
	if bt.emulator == "" {
		// Uses Application Default Credentials to authenticate into Google's Cloud.
		return nil, nil
	}
	conn, err := grpc.NewClient(bt.emulator, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to bigtable emulator at %s: %v", bt.emulator, err)
	}
	return []option.ClientOption{option.WithGRPCConn(conn)}, nil
}

// Open returns a BigTable store, creating the table and column family if needed.
func Open(ctx context.Context, config dvid.StoreConfig) (*BigTable, error) {
	bt, err := parseConfig(config)
	if err != nil {
		return nil, err
	}
	opts, err := bt.clientOptions()
	if err != nil {
		return nil, err
	}

	adminClient, err := api.NewAdminClient(ctx, bt.project, bt.instance, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create a table admin client: %v", err)
	}
	defer adminClient.Close()

	tables, err := adminClient.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch table list: %v", err)
	}
	if !sliceContains(tables, bt.table) {
		if err := adminClient.CreateTable(ctx, bt.table); err != nil {
			return nil, fmt.Errorf("unable to create table %q: %v", bt.table, err)
		}
		dvid.Infof("Created bigtable table %q\n", bt.table)
	}
	tblInfo, err := adminClient.TableInfo(ctx, bt.table)
	if err != nil {
		return nil, fmt.Errorf("unable to read info for table %q: %v", bt.table, err)
	}
	if !sliceContains(tblInfo.Families, familyName) {
		if err := adminClient.CreateColumnFamily(ctx, bt.table, familyName); err != nil {
			return nil, fmt.Errorf("unable to create column family %q: %v", familyName, err)
		}
	}

	if bt.client, err = api.NewClient(ctx, bt.project, bt.instance, opts...); err != nil {
		return nil, fmt.Errorf("unable to create a table client: %v", err)
	}
	bt.tbl = bt.client.Open(bt.table)
	return bt, nil
}

func (bt *BigTable) String() string {
	return fmt.Sprintf("bigtable %s/%s/%s", bt.project, bt.instance, bt.table)
}

// Get returns the latest value stored in the row for the key.
func (bt *BigTable) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := bt.tbl.ReadRow(ctx, key, api.RowFilter(api.LatestNFilter(1)))
	if err != nil {
		return nil, fmt.Errorf("%s get key %q: %w", bt, key, err)
	}
	items := r[familyName]
	if len(items) == 0 {
		return nil, fmt.Errorf("%s key %q: %w", bt, key, storage.ErrNotFound)
	}
	return items[0].Value, nil
}

// Put writes the value into the row for the key, replacing any older cell.
func (bt *BigTable) Put(ctx context.Context, key string, value []byte) error {
	mut := api.NewMutation()
	mut.DeleteCellsInColumn(familyName, columnName)
	mut.Set(familyName, columnName, api.Now(), value)
	if err := bt.tbl.Apply(ctx, key, mut); err != nil {
		return fmt.Errorf("%s put key %q: %w", bt, key, err)
	}
	return nil
}

func (bt *BigTable) Close() error {
	if bt.client == nil {
		return nil
	}
	return bt.client.Close()
}

func sliceContains(s []string, e string) bool {
	for _, a := range s {
		if a == e {
			return true
		}
	}
	return false
}
