// Package config provides configuration management for floatfeed pipelines.
//
// # Usage
//
// ## Loading from YAML
//
//	cfg, err := config.LoadFeed("feed.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// ## Programmatic Creation
//
//	cfg := config.NewFeedConfig("cifar-eval")
//	cfg.Data.Source = "/data/cifar_test_leveldb"
//	cfg.Transform.Mode = config.ModeEval
//	cfg.Transform.CropSize = 28
//
// ## Environment Variable Substitution
//
//	# feed.yaml
//	name: imagenet-train
//	data:
//	  source: ${DATA_ROOT}/train_leveldb
//	  mean_file: ${MEAN_URI:-/data/mean.binaryproto}
//	transform:
//	  batch_size: 256
//	  crop_size: 227
//	  mirror: true
//	  mode: train
//
// # Configuration Structure
//
//	type FeedConfig struct {
//		Name          string
//		Data          DataConfig          // source, backend, bucket, compression, mean_file
//		Transform     TransformConfig     // batch_size, crop_size, mirror, scale, mode, output_labels, seed
//		Observability ObservabilityConfig // logging, metrics, tracing
//	}
//
// Validate rejects the combinations the pipeline cannot run with, such as
// mirroring without a crop window or an unknown backend, before any store is
// opened. Errors are config-typed errors from pkg/errors.
package config
