// Package arrow_client exports analysis artifacts as Arrow record batches,
// either to IPC files or to an Arrow Flight endpoint.
package arrow_client

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-prism/internal/metrics"
	"github.com/23skdu/longbow-prism/internal/view"
)

// DefaultPort is the default Flight data port.
const DefaultPort = 3000

// Exporter builds Arrow records from view-data.
type Exporter struct {
	mem memory.Allocator
}

// NewExporter creates an exporter backed by the default allocator.
func NewExporter() *Exporter {
	return &Exporter{mem: memory.DefaultAllocator}
}

var factorSchema = arrow.NewSchema([]arrow.Field{
	{Name: "batch", Type: arrow.PrimitiveTypes.Int32},
	{Name: "component", Type: arrow.PrimitiveTypes.Int32},
	{Name: "position", Type: arrow.PrimitiveTypes.Int32},
	{Name: "value", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// FactorRecord flattens an NMF factor payload into a long-format record:
// one row per (batch, component, position) cell.
func (e *Exporter) FactorRecord(data view.FactorData) arrow.Record {
	b := array.NewRecordBuilder(e.mem, factorSchema)
	defer b.Release()

	batchB := b.Field(0).(*array.Int32Builder)
	compB := b.Field(1).(*array.Int32Builder)
	posB := b.Field(2).(*array.Int32Builder)
	valB := b.Field(3).(*array.Float64Builder)

	for bi, batch := range data.Factors {
		for ci, comp := range batch {
			for pi, v := range comp {
				batchB.Append(int32(bi))
				compB.Append(int32(ci))
				posB.Append(int32(pi))
				valB.Append(v)
			}
		}
	}
	return b.NewRecord()
}

var rankingsSchema = arrow.NewSchema([]arrow.Field{
	{Name: "layer", Type: arrow.PrimitiveTypes.Int32},
	{Name: "column", Type: arrow.PrimitiveTypes.Int32},
	{Name: "token", Type: arrow.BinaryTypes.String},
	{Name: "ranking", Type: arrow.PrimitiveTypes.Int32},
}, nil)

// RankingsRecord flattens a ranking matrix into one row per
// (layer, column) cell, labeled with the column's token text.
func (e *Exporter) RankingsRecord(data view.RankingsData) arrow.Record {
	b := array.NewRecordBuilder(e.mem, rankingsSchema)
	defer b.Release()

	layerB := b.Field(0).(*array.Int32Builder)
	colB := b.Field(1).(*array.Int32Builder)
	tokenB := b.Field(2).(*array.StringBuilder)
	rankB := b.Field(3).(*array.Int32Builder)

	for li, row := range data.Rankings {
		for ci, rk := range row {
			layerB.Append(int32(li))
			colB.Append(int32(ci))
			if ci < len(data.OutputTokens) {
				tokenB.Append(data.OutputTokens[ci])
			} else {
				tokenB.Append(strconv.Itoa(ci))
			}
			rankB.Append(int32(rk))
		}
	}
	return b.NewRecord()
}

// WriteIPCFile writes a record batch to an Arrow IPC file.
func WriteIPCFile(path string, rec arrow.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(rec.Schema()))
	if err != nil {
		return fmt.Errorf("ipc writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close ipc writer: %w", err)
	}
	metrics.RecordExport("ipc", 1)
	return nil
}

// FlightClient pushes analysis records to an Arrow Flight server.
type FlightClient struct {
	client  flight.Client
	addr    string
	timeout time.Duration
}

// NewFlightClient prepares a Flight client for the given address.
func NewFlightClient(host string, port int) *FlightClient {
	if port <= 0 {
		port = DefaultPort
	}
	return &FlightClient{
		addr:    fmt.Sprintf("%s:%d", host, port),
		timeout: 30 * time.Second,
	}
}

// Connect dials the Flight server.
func (fc *FlightClient) Connect() error {
	client, err := flight.NewClientWithMiddleware(fc.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect flight server %s: %w", fc.addr, err)
	}
	fc.client = client
	return nil
}

// Close disconnects from the Flight server.
func (fc *FlightClient) Close() error {
	if fc.client != nil {
		return fc.client.Close()
	}
	return nil
}

// DoPut streams one record batch to the server under the given path.
func (fc *FlightClient) DoPut(ctx context.Context, name string, rec arrow.Record) error {
	if fc.client == nil {
		return fmt.Errorf("flight client not connected, call Connect() first")
	}

	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("open DoPut stream: %w", err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{"prism", name},
	})
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return fmt.Errorf("write record: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("close record writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	metrics.RecordExport("flight", 1)
	return nil
}
