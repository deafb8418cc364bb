// Package pipeline assembles the BraTS training, validation, test and
// post-processing transform chains from a Config.
package pipeline

import (
	"context"

	"github.com/pkg/errors"

	"bratsprep/internal/models"
	"bratsprep/pkg/config"
	"bratsprep/pkg/interpolation"
	"bratsprep/pkg/transforms"
)

// newRNG returns a seeded generator, or nil to use the shared default.
func newRNG(cfg *config.Config) *transforms.RNG {
	if cfg.Processing.Seed == 0 {
		return nil
	}
	return transforms.NewRNG(cfg.Processing.Seed)
}

func spacingModes(cfg *config.Config) (image, label interpolation.Mode, err error) {
	if image, err = interpolation.ParseMode(cfg.Spacing.ImageMode); err != nil {
		return 0, 0, errors.Wrap(err, "spacing.imageMode")
	}
	if label, err = interpolation.ParseMode(cfg.Spacing.LabelMode); err != nil {
		return 0, 0, errors.Wrap(err, "spacing.labelMode")
	}
	return image, label, nil
}

// preprocess is the deterministic head shared by training and validation:
// load, channel handling, label encoding, orientation and spacing.
func preprocess(cfg *config.Config) (transforms.ComposeD, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	image, label := cfg.Keys.Image, cfg.Keys.Label
	imageMode, labelMode, err := spacingModes(cfg)
	if err != nil {
		return nil, err
	}
	spacing, err := transforms.Spacingd(cfg.Spacing.Pixdim,
		[]interpolation.Mode{imageMode, labelMode}, image, label)
	if err != nil {
		return nil, err
	}
	return transforms.ComposeD{
		transforms.LoadImaged(image, label),
		transforms.EnsureChannelFirstd(image),
		transforms.EnsureTyped(image, label),
		transforms.ConvertToMultiChannelBasedOnBratsClassesd(label),
		transforms.Orientationd(cfg.Orientation.Axcodes, image, label),
		spacing,
	}, nil
}

// TrainTransform builds the training chain: preprocessing, random crop and
// flips on image and label together, normalisation and random intensity
// scale and shift on the image.
func TrainTransform(cfg *config.Config) (transforms.MapTransform, error) {
	head, err := preprocess(cfg)
	if err != nil {
		return nil, err
	}
	rng := newRNG(cfg)
	image, label := cfg.Keys.Image, cfg.Keys.Label
	aug := cfg.Augmentation

	return append(head,
		transforms.RandSpatialCropd(aug.ROISize, rng, image, label),
		transforms.RandFlipd(aug.FlipProb, 0, rng, image, label),
		transforms.RandFlipd(aug.FlipProb, 1, rng, image, label),
		transforms.RandFlipd(aug.FlipProb, 2, rng, image, label),
		transforms.NormalizeIntensityd(cfg.Normalization.Nonzero, cfg.Normalization.ChannelWise, image),
		transforms.RandScaleIntensityd(aug.ScaleFactors, aug.IntensityProb, rng, image),
		transforms.RandShiftIntensityd(aug.ShiftOffsets, aug.IntensityProb, rng, image),
	), nil
}

// ValTransform builds the validation chain: preprocessing and normalisation.
func ValTransform(cfg *config.Config) (transforms.MapTransform, error) {
	head, err := preprocess(cfg)
	if err != nil {
		return nil, err
	}
	return append(head,
		transforms.NormalizeIntensityd(cfg.Normalization.Nonzero, cfg.Normalization.ChannelWise, cfg.Keys.Image),
	), nil
}

// TestTransform builds the chain for unlabeled images.
func TestTransform(cfg *config.Config) (transforms.Transform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	imageMode, _, err := spacingModes(cfg)
	if err != nil {
		return nil, err
	}
	return transforms.Compose{
		transforms.LoadImage{},
		transforms.EnsureChannelFirst{},
		transforms.EnsureType{},
		transforms.Orientation{Axcodes: cfg.Orientation.Axcodes},
		transforms.Spacing{Pixdim: cfg.Spacing.Pixdim, Mode: imageMode},
		transforms.NormalizeIntensity{Nonzero: cfg.Normalization.Nonzero, ChannelWise: cfg.Normalization.ChannelWise},
	}, nil
}

// PostTransform turns raw model outputs into binary TC/WT/ET channels.
func PostTransform(cfg *config.Config) (transforms.Transform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return postSteps(cfg), nil
}

func postSteps(cfg *config.Config) transforms.Compose {
	return transforms.Compose{
		transforms.Activations{Sigmoid: cfg.Post.Sigmoid},
		transforms.AsDiscrete{Threshold: cfg.Post.Threshold},
	}
}

// DecodeTransform turns raw model outputs into a BraTS label map.
func DecodeTransform(cfg *config.Config) (transforms.Transform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return append(postSteps(cfg), transforms.ConvertToBratsClassesBasedOnMultiChannel{}), nil
}

// PostTransformd is PostTransform over the prediction key of a sample.
func PostTransformd(cfg *config.Config) (transforms.MapTransform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return postStepsd(cfg), nil
}

func postStepsd(cfg *config.Config) transforms.ComposeD {
	pred := cfg.Keys.Pred
	return transforms.ComposeD{
		transforms.Activationsd(cfg.Post.Sigmoid, pred),
		transforms.AsDiscreted(cfg.Post.Threshold, pred),
	}
}

// DecodeTransformd decodes the prediction key into a label map. When
// outputDir is set the label map is also written there as <source>_seg.nii.gz.
func DecodeTransformd(cfg *config.Config, outputDir string) (transforms.MapTransform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	pred := cfg.Keys.Pred
	steps := append(postStepsd(cfg), transforms.ConvertToBratsClassesBasedOnMultiChanneld(pred))
	if outputDir != "" {
		steps = append(steps, transforms.SaveImaged(outputDir, "seg", pred))
	}
	return steps, nil
}

// Run applies t to every sample with the configured number of workers.
func Run(ctx context.Context, cfg *config.Config, t transforms.MapTransform, samples []models.Sample) ([]models.Sample, error) {
	return transforms.ApplyBatch(ctx, t, samples, cfg.Processing.NumWorkers)
}
