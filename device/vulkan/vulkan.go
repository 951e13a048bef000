// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vulkan implements device.Driver on top of the Vulkan API.
package vulkan

import (
	"unsafe"

	vk "github.com/devblok/vulkan"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/devblok/vkengine/device"
)

// Validation layers in order of preference, and the debug report
// extension used to forward their messages
var (
	validationLayers = []string{
		"VK_LAYER_KHRONOS_validation",
		"VK_LAYER_LUNARG_standard_validation",
	}
	debugReportExtension = "VK_EXT_debug_report"
)

// Driver loads Vulkan and creates instances
type Driver struct {
	// ProcAddr is the vkGetInstanceProcAddr to use, nil
	// loads it from the system Vulkan loader
	ProcAddr unsafe.Pointer

	// Log receives validation messages in debug mode
	Log logrus.FieldLogger
}

// Name of the driver
func (d *Driver) Name() string {
	return "vulkan"
}

// NewInstance loads the API and creates an instance
func (d *Driver) NewInstance(info device.InstanceInfo) (device.Instance, error) {
	if d.ProcAddr == nil {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return nil, errors.Wrap(device.ErrorInitializationFailed, "vk.SetDefaultGetInstanceProcAddr(): "+err.Error())
		}
	} else {
		vk.SetGetInstanceProcAddr(d.ProcAddr)
	}
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(device.ErrorInitializationFailed, "vk.Init(): "+err.Error())
	}

	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	var layers, extensions []string
	if info.Debug {
		available, err := instanceLayers()
		if err != nil {
			return nil, err
		}
		for _, l := range validationLayers {
			if contains(available, l) {
				layers = append(layers, l)
				break
			}
		}
		exts, err := instanceExtensions()
		if err != nil {
			return nil, err
		}
		if contains(exts, debugReportExtension) {
			extensions = append(extensions, debugReportExtension)
		}
	}

	apiVersion := info.APIVersion
	if apiVersion == 0 {
		apiVersion = device.MakeVersion(1, 0, 0)
	}
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(apiVersion),
		ApplicationVersion: uint32(info.ApplicationVersion),
		PApplicationName:   safeString(info.ApplicationName),
		PEngineName:        safeString(info.EngineName),
	}
	instanceInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}

	var handle vk.Instance
	if err := check(vk.CreateInstance(&instanceInfo, nil, &handle), "vk.CreateInstance()"); err != nil {
		return nil, err
	}
	vk.InitInstance(handle)

	inst := &instance{
		handle:     handle,
		apiVersion: apiVersion,
		layers:     layers,
		extensions: extensions,
	}
	if contains(extensions, debugReportExtension) {
		if err := inst.setDebugCallback(log); err != nil {
			log.WithError(err).Warn("debug report callback unavailable")
		}
	}
	return inst, nil
}

type instance struct {
	handle     vk.Instance
	apiVersion device.Version
	layers     []string
	extensions []string
	debug      vk.DebugReportCallback
	hasDebug   bool
}

func (i *instance) setDebugCallback(log logrus.FieldLogger) error {
	var cb vk.DebugReportCallback
	ret := vk.CreateDebugReportCallback(i.handle, &vk.DebugReportCallbackCreateInfo{
		SType: vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: func(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
			object uint, location uint, messageCode int32, pLayerPrefix string,
			pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

			entry := log.WithFields(logrus.Fields{
				"layer": pLayerPrefix,
				"code":  messageCode,
			})
			switch {
			case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
				entry.Error(pMessage)
			case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0,
				flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
				entry.Warn(pMessage)
			default:
				entry.Debug(pMessage)
			}
			return vk.Bool32(vk.False)
		},
	}, nil, &cb)
	if err := check(ret, "vk.CreateDebugReportCallback()"); err != nil {
		return err
	}
	i.debug, i.hasDebug = cb, true
	return nil
}

func (i *instance) APIVersion() device.Version {
	return i.apiVersion
}

func (i *instance) Layers() []string {
	return append([]string(nil), i.layers...)
}

func (i *instance) Extensions() []string {
	return append([]string(nil), i.extensions...)
}

func (i *instance) PhysicalDevices() ([]device.PhysicalDevice, error) {
	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(i.handle, &count, nil), "vk.EnumeratePhysicalDevices()"); err != nil {
		return nil, err
	}
	handles := make([]vk.PhysicalDevice, count)
	if err := check(vk.EnumeratePhysicalDevices(i.handle, &count, handles), "vk.EnumeratePhysicalDevices()"); err != nil {
		return nil, err
	}

	out := make([]device.PhysicalDevice, 0, len(handles))
	for _, h := range handles[:count] {
		out = append(out, &physicalDevice{
			handle: h,
			info:   physicalDeviceInfo(h),
		})
	}
	return out, nil
}

func (i *instance) Destroy() {
	if i.hasDebug {
		vk.DestroyDebugReportCallback(i.handle, i.debug, nil)
		i.hasDebug = false
	}
	vk.DestroyInstance(i.handle, nil)
}

func instanceLayers() ([]string, error) {
	var count uint32
	if err := check(vk.EnumerateInstanceLayerProperties(&count, nil), "vk.EnumerateInstanceLayerProperties()"); err != nil {
		return nil, err
	}
	list := make([]vk.LayerProperties, count)
	if err := check(vk.EnumerateInstanceLayerProperties(&count, list), "vk.EnumerateInstanceLayerProperties()"); err != nil {
		return nil, err
	}
	var names []string
	for _, layer := range list {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, nil
}

func instanceExtensions() ([]string, error) {
	var count uint32
	if err := check(vk.EnumerateInstanceExtensionProperties("", &count, nil), "vk.EnumerateInstanceExtensionProperties()"); err != nil {
		return nil, err
	}
	list := make([]vk.ExtensionProperties, count)
	if err := check(vk.EnumerateInstanceExtensionProperties("", &count, list), "vk.EnumerateInstanceExtensionProperties()"); err != nil {
		return nil, err
	}
	var names []string
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}
