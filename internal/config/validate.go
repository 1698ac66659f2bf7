package config

import (
	"github.com/alarmpi/tools/internal/blockdev"
)

// Validate checks the required configuration once per load and reports all
// missing keys together.
func (p *Profile) Validate() error {
	var missing []string
	need := func(key string) {
		if !p.Has(key) {
			missing = append(missing, key)
		}
	}

	need("storage.type")
	switch p.Storage.Type {
	case RawFile:
		need("storage.image_file.name")
		need("storage.image_file.size_mb")
	case Device:
		need("storage.device")
	}
	if len(p.Partitions) == 0 {
		need("storage.partitions")
	}
	for _, part := range p.Partitions {
		prefix := "storage.partitions." + part.Name + "."
		if !p.Has(prefix+"fs_type") && !p.Has(prefix+"type") {
			missing = append(missing, prefix+"fs_type")
		}
		need(prefix + "mountpoint")
	}
	if len(missing) > 0 {
		return &MissingKeysError{Profile: p.Name, Keys: missing}
	}

	switch p.Storage.Type {
	case RawFile:
		if p.Storage.ImageFile.SizeMB <= 0 {
			return &InvalidValueError{
				Key:   "storage.image_file.size_mb",
				Value: p.valueOf("storage.image_file.size_mb"),
				Why:   "must be a positive number of MiB",
			}
		}
	case Device:
		if kind, err := blockdev.Classify(p.Storage.Device); err != nil || kind != blockdev.Device {
			return &InvalidValueError{
				Key:   "storage.device",
				Value: p.Storage.Device,
				Why:   "must be a whole block device such as /dev/sdb or /dev/mmcblk0",
			}
		}
	default:
		return &InvalidValueError{
			Key:   "storage.type",
			Value: string(p.Storage.Type),
			Why:   "must be one of rawfile, device",
		}
	}
	if dev := p.Storage.InternalDevice; dev != "" {
		if kind, err := blockdev.Classify(dev); err != nil || kind != blockdev.Device {
			return &InvalidValueError{
				Key:   "storage.internal_device",
				Value: dev,
				Why:   "must be a whole block device such as /dev/mmcblk0",
			}
		}
	}
	return nil
}

// Require returns a *MissingKeysError listing every key which is not set.
// Commands use it for keys only they depend on (e.g. alarm_image.url).
func (p *Profile) Require(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if !p.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &MissingKeysError{Profile: p.Name, Keys: missing}
	}
	return nil
}

func (p *Profile) valueOf(key string) string {
	v, _ := p.Get(key)
	return v
}

// PartitionByName returns the named partition or nil.
func (p *Profile) PartitionByName(name string) *Partition {
	for _, part := range p.Partitions {
		if part.Name == name {
			return part
		}
	}
	return nil
}
