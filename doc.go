// Package floatfeed feeds fixed-size float batches to a training loop from
// an ordered key-value record store, prefetching the next batch on a
// background goroutine while the consumer works on the current one.
//
// # Architecture
//
// A feed is four stages wired into one pipeline:
//
// 1. Record source: a cursor over a LevelDB or bbolt store that restarts
// from the first record when it runs past the last one, so a feed never
// ends.
//
// 2. Decoder: records are Datum messages (channels, height, width, label,
// byte or float payload), optionally compressed in the store.
//
// 3. Augmentation: square crops (random in training, centered in
// evaluation), random horizontal mirroring, mean subtraction and scaling.
//
// 4. Prefetch: two batch buffers and one producer goroutine. The consumer
// owns one buffer while the producer fills the other; WaitAndSwap hands
// the finished one over and starts the next fill.
//
// # Quick Start
//
//	cfg := config.NewFeedConfig("cifar-train")
//	cfg.Data.Source = "/data/cifar_train_leveldb"
//	cfg.Data.MeanFile = "s3://datasets/cifar/mean.binaryproto"
//	cfg.Transform.BatchSize = 128
//	cfg.Transform.CropSize = 28
//	cfg.Transform.Mirror = true
//
//	p, err := prefetch.Open(ctx, cfg, logger.Get(), nil)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	if err := p.Start(ctx); err != nil {
//	    return err
//	}
//	for {
//	    batch, err := p.WaitAndSwap(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    step(batch.Data, batch.Labels)
//	}
//
// # Key Packages
//
//	internal/prefetch - Double-buffered prefetch pipeline
//	internal/store    - Cyclic record sources and writers (leveldb, bolt)
//	internal/augment  - Crop, mirror, mean subtraction, scale; seeded draws
//	internal/ingest   - JSON-lines ingest and record summaries
//	pkg/datum         - Record wire format
//	pkg/mean          - Mean blob files, local or on S3
//	pkg/compression   - Store value codecs
//	pkg/config        - Feed configuration
//	pkg/errors        - Structured error handling
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus metrics
//	pkg/observability - Fill-cycle tracing
//
// # Command Line
//
//	floatfeed ingest --input train.jsonl --out ./train_leveldb --compression zstd
//	floatfeed inspect --config feed.yaml --limit 5
//	floatfeed run --config feed.yaml --batches 1000 --metrics-addr :9464
//
// Environment variables are supported in configuration files with
// ${VAR_NAME} syntax, and FLOATFEED_* variables override file values.
package floatfeed
