//go:build windows

package wmi

import (
	"context"
	"fmt"
	"runtime"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"golang.org/x/sys/windows/registry"
)

// connect initializes COM on the current (locked) thread and returns a
// service bound to namespace. The caller must run release when done.
func connect(namespace string) (service *ole.IDispatch, release func(), err error) {
	runtime.LockOSThread()
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		oleErr, ok := err.(*ole.OleError)
		// S_FALSE means already initialized
		if !ok || oleErr.Code() != 0x00000001 {
			runtime.UnlockOSThread()
			return nil, nil, fmt.Errorf("COM initialization failed: %w", err)
		}
	}
	uninit := func() {
		ole.CoUninitialize()
		runtime.UnlockOSThread()
	}

	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		uninit()
		return nil, nil, fmt.Errorf("failed to create WMI locator: %w", err)
	}
	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	unknown.Release()
	if err != nil {
		uninit()
		return nil, nil, fmt.Errorf("failed to get IDispatch: %w", err)
	}

	serviceRaw, err := oleutil.CallMethod(locator, "ConnectServer", ".", namespace)
	if err != nil {
		locator.Release()
		uninit()
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", namespace, err)
	}
	service = serviceRaw.ToIDispatch()

	return service, func() {
		service.Release()
		locator.Release()
		uninit()
	}, nil
}

func query(ctx context.Context, namespace, q string) ([]QueryResult, error) {
	service, release, err := connect(namespace)
	if err != nil {
		return nil, err
	}
	defer release()

	resultRaw, err := oleutil.CallMethod(service, "ExecQuery", q)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	result := resultRaw.ToIDispatch()
	defer result.Release()

	countRaw, err := oleutil.GetProperty(result, "Count")
	if err != nil {
		return nil, fmt.Errorf("failed to get count: %w", err)
	}
	count := int(countRaw.Val)

	results := make([]QueryResult, 0, count)
	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		itemRaw, err := oleutil.CallMethod(result, "ItemIndex", i)
		if err != nil {
			continue
		}
		item := itemRaw.ToIDispatch()
		qr, err := readProperties(item)
		item.Release()
		if err != nil {
			continue
		}
		results = append(results, qr)
	}

	return results, nil
}

func readProperties(item *ole.IDispatch) (QueryResult, error) {
	propsRaw, err := oleutil.GetProperty(item, "Properties_")
	if err != nil {
		return nil, err
	}
	props := propsRaw.ToIDispatch()
	defer props.Release()

	propCountRaw, err := oleutil.GetProperty(props, "Count")
	if err != nil {
		return nil, err
	}
	propCount := int(propCountRaw.Val)

	qr := make(QueryResult, propCount)
	for j := 0; j < propCount; j++ {
		propRaw, err := oleutil.CallMethod(props, "ItemIndex", j)
		if err != nil {
			continue
		}
		prop := propRaw.ToIDispatch()

		nameRaw, err := oleutil.GetProperty(prop, "Name")
		if err != nil {
			prop.Release()
			continue
		}
		valRaw, err := oleutil.GetProperty(prop, "Value")
		if err != nil {
			prop.Release()
			continue
		}

		var val interface{}
		switch valRaw.VT {
		case ole.VT_NULL, ole.VT_EMPTY:
			val = nil
		case ole.VT_BOOL:
			val = valRaw.Val != 0
		case ole.VT_I4, ole.VT_INT:
			val = int32(valRaw.Val)
		case ole.VT_UI4, ole.VT_UINT:
			val = uint32(valRaw.Val)
		case ole.VT_UI1:
			val = uint8(valRaw.Val)
		case ole.VT_BSTR:
			val = valRaw.ToString()
		default:
			val = valRaw.Value()
		}
		qr[nameRaw.ToString()] = val
		prop.Release()
	}
	return qr, nil
}

func rootKey(h Hive) registry.Key {
	if h == CurrentUser {
		return registry.CURRENT_USER
	}
	return registry.LOCAL_MACHINE
}

func openKey(hive Hive, path string, access uint32) (registry.Key, error) {
	k, err := registry.OpenKey(rootKey(hive), path, access|registry.WOW64_64KEY)
	if err != nil {
		return 0, fmt.Errorf(`open %s\%s: %w`, hive, path, err)
	}
	return k, nil
}

func readString(hive Hive, path, name string) (string, error) {
	k, err := openKey(hive, path, registry.QUERY_VALUE)
	if err != nil {
		return "", err
	}
	defer k.Close()

	val, _, err := k.GetStringValue(name)
	if err != nil {
		return "", fmt.Errorf(`read %s\%s\%s: %w`, hive, path, name, err)
	}
	return val, nil
}

func readDWORD(hive Hive, path, name string) (uint64, error) {
	k, err := openKey(hive, path, registry.QUERY_VALUE)
	if err != nil {
		return 0, err
	}
	defer k.Close()

	val, _, err := k.GetIntegerValue(name)
	if err != nil {
		return 0, fmt.Errorf(`read %s\%s\%s: %w`, hive, path, name, err)
	}
	return val, nil
}

func subKeys(hive Hive, path string) ([]string, error) {
	k, err := openKey(hive, path, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil, err
	}
	defer k.Close()

	names, err := k.ReadSubKeyNames(-1)
	if err != nil {
		return nil, fmt.Errorf(`enumerate %s\%s: %w`, hive, path, err)
	}
	return names, nil
}
