// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package assetfetch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultModelsDir is where the reference catalog places files.
const DefaultModelsDir = "/comfyui/models"

const (
	hfBase   = "https://huggingface.co"
	fluxText = hfBase + "/comfyanonymous/flux_text_encoders/resolve/main"
	wanBase  = hfBase + "/Comfy-Org/Wan_2.1_ComfyUI_repackaged/resolve/main/split_files"
)

// Catalog maps asset-set names to their sets.
type Catalog map[string]AssetSet

// Names returns the set names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named set, or a configuration error listing the valid
// names.
func (c Catalog) Lookup(name string) (AssetSet, error) {
	set, ok := c[name]
	if !ok {
		return AssetSet{}, &FetchError{
			Kind:  KindConfiguration,
			Set:   name,
			Index: -1,
			Err:   fmt.Errorf("%w: unknown asset set %q (valid: %s)", ErrConfiguration, name, strings.Join(c.Names(), ", ")),
		}
	}
	return set, nil
}

// Validate validates every set in the catalog.
func (c Catalog) Validate() error {
	for _, name := range c.Names() {
		if err := c[name].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ReferenceCatalog returns the built-in asset sets with destinations under
// modelsDir (DefaultModelsDir when empty).
//
// Sets share some files (the FLUX text encoders); that is fine because sets
// are never fetched concurrently.
func ReferenceCatalog(modelsDir string) Catalog {
	root := defaultString(modelsDir, DefaultModelsDir)
	at := func(rel string) string { return filepath.Join(root, filepath.FromSlash(rel)) }

	set := func(name string, ds ...AssetDescriptor) AssetSet {
		return AssetSet{Name: name, Descriptors: ds}
	}

	clipL := AssetDescriptor{at("clip/clip_l.safetensors"), fluxText + "/clip_l.safetensors", false}
	t5fp8 := AssetDescriptor{at("clip/t5xxl_fp8_e4m3fn.safetensors"), fluxText + "/t5xxl_fp8_e4m3fn.safetensors", false}

	sets := []AssetSet{
		set("sdxl",
			AssetDescriptor{at("checkpoints/sd_xl_base_1.0.safetensors"),
				hfBase + "/stabilityai/stable-diffusion-xl-base-1.0/resolve/main/sd_xl_base_1.0.safetensors", false},
			AssetDescriptor{at("vae/sdxl_vae.safetensors"),
				hfBase + "/stabilityai/sdxl-vae/resolve/main/sdxl_vae.safetensors", false},
			AssetDescriptor{at("vae/sdxl-vae-fp16-fix.safetensors"),
				hfBase + "/madebyollin/sdxl-vae-fp16-fix/resolve/main/sdxl_vae.safetensors", false},
		),
		set("sd3",
			AssetDescriptor{at("checkpoints/sd3_medium_incl_clips_t5xxlfp8.safetensors"),
				hfBase + "/stabilityai/stable-diffusion-3-medium/resolve/main/sd3_medium_incl_clips_t5xxlfp8.safetensors", true},
		),
		set("flux1-schnell",
			AssetDescriptor{at("unet/flux1-schnell.safetensors"),
				hfBase + "/black-forest-labs/FLUX.1-schnell/resolve/main/flux1-schnell.safetensors", false},
			clipL,
			t5fp8,
			AssetDescriptor{at("vae/ae.safetensors"),
				hfBase + "/black-forest-labs/FLUX.1-schnell/resolve/main/ae.safetensors", false},
		),
		set("flux1-dev",
			AssetDescriptor{at("unet/flux1-dev.safetensors"),
				hfBase + "/black-forest-labs/FLUX.1-dev/resolve/main/flux1-dev.safetensors", true},
			clipL,
			t5fp8,
			AssetDescriptor{at("vae/ae.safetensors"),
				hfBase + "/black-forest-labs/FLUX.1-dev/resolve/main/ae.safetensors", true},
		),
		set("flux1-dev-fp8",
			AssetDescriptor{at("checkpoints/flux1-dev-fp8.safetensors"),
				hfBase + "/Comfy-Org/flux1-dev/resolve/main/flux1-dev-fp8.safetensors", false},
		),
		set("wan",
			AssetDescriptor{at("diffusion_models/wan2.1_t2v_14B_fp8_e4m3fn.safetensors"),
				wanBase + "/diffusion_models/wan2.1_t2v_14B_fp8_e4m3fn.safetensors", false},
			AssetDescriptor{at("diffusion_models/wan2.1_i2v_480p_14B_fp8_e4m3fn.safetensors"),
				wanBase + "/diffusion_models/wan2.1_i2v_480p_14B_fp8_e4m3fn.safetensors", false},
			AssetDescriptor{at("text_encoders/umt5_xxl_fp8_e4m3fn_scaled.safetensors"),
				wanBase + "/text_encoders/umt5_xxl_fp8_e4m3fn_scaled.safetensors", false},
			AssetDescriptor{at("vae/wan_2.1_vae.safetensors"),
				wanBase + "/vae/wan_2.1_vae.safetensors", false},
			AssetDescriptor{at("clip_vision/clip_vision_h.safetensors"),
				wanBase + "/clip_vision/clip_vision_h.safetensors", false},
		),
	}

	c := make(Catalog, len(sets))
	for _, s := range sets {
		c[s.Name] = s
	}
	return c
}

// catalogFile is the YAML layout of a user catalog:
//
//	sets:
//	  my-model:
//	    - path: checkpoints/my-model.safetensors
//	      url: https://example.com/my-model.safetensors
//	      auth: true
type catalogFile struct {
	Sets map[string][]AssetDescriptor `yaml:"sets"`
}

// LoadCatalogFile reads extra asset sets from a YAML file. Relative
// destination paths are resolved under modelsDir.
func LoadCatalogFile(path, modelsDir string) (Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &FetchError{Kind: KindConfiguration, Index: -1, Err: fmt.Errorf("%w: read catalog: %v", ErrConfiguration, err)}
	}
	return ParseCatalog(b, modelsDir)
}

// ParseCatalog parses a YAML catalog document. See LoadCatalogFile.
func ParseCatalog(data []byte, modelsDir string) (Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &FetchError{Kind: KindConfiguration, Index: -1, Err: fmt.Errorf("%w: invalid catalog YAML: %v", ErrConfiguration, err)}
	}

	root := defaultString(modelsDir, DefaultModelsDir)
	c := make(Catalog, len(f.Sets))
	for name, ds := range f.Sets {
		out := make([]AssetDescriptor, len(ds))
		for i, d := range ds {
			if d.DestinationPath != "" && !filepath.IsAbs(d.DestinationPath) {
				d.DestinationPath = filepath.Join(root, filepath.FromSlash(d.DestinationPath))
			}
			out[i] = d
		}
		c[name] = AssetSet{Name: name, Descriptors: out}
	}
	if err := c.Validate(); err != nil {
		return nil, &FetchError{Kind: KindConfiguration, Index: -1, Err: fmt.Errorf("%w: %v", ErrConfiguration, err)}
	}
	return c, nil
}

// Merge returns a new catalog holding c's sets overridden by other's.
func (c Catalog) Merge(other Catalog) Catalog {
	out := make(Catalog, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
